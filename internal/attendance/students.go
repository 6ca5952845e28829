package attendance

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	regNumPattern = regexp.MustCompile(`^20[1-2][0-9]/\d{6}$`)
	phonePattern  = regexp.MustCompile(`^0[789][01]\d{8}$`)
)

// EnrollForm is the enrollment submission.
type EnrollForm struct {
	RegNum      string `json:"reg_num" validate:"required,regnum"`
	Firstname   string `json:"firstname" validate:"required,max=30"`
	Lastname    string `json:"lastname" validate:"required,max=30"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,phone"`
	Department  string `json:"department" validate:"required,max=15"`
	Level       int    `json:"level" validate:"required,level"`
}

// EditForm carries the mutable student fields. Empty fields are left unchanged.
type EditForm struct {
	PhoneNumber string `json:"phone_number" validate:"omitempty,phone"`
	Department  string `json:"department" validate:"omitempty,max=15"`
	Level       int    `json:"level" validate:"omitempty,level"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("regnum", func(fl validator.FieldLevel) bool {
		return regNumPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("level", func(fl validator.FieldLevel) bool {
		return Level(fl.Field().Int()).Valid()
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// validationError turns validator output into user-facing problems.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	problems := make([]string, 0, len(ve))
	for _, fe := range ve {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", fe.Field())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		case "regnum":
			msg = fmt.Sprintf("%q is not valid, (should be 201X/XXXXXX or 202X/XXXXXX)", fe.Value())
		case "phone":
			msg = fmt.Sprintf("%q does not seem to be valid. (should be in the format 080XXXXXXXX)", fe.Value())
		case "level":
			msg = fmt.Sprintf("%v is not a valid level, select any of %v", fe.Value(), ValidLevels)
		default:
			msg = fmt.Sprintf("%s is invalid", fe.Field())
		}
		problems = append(problems, msg)
	}
	return &ValidationError{Problems: problems}
}

// Students handles enrollment, identification and profile edits.
type Students struct {
	store    Store
	validate *validator.Validate
}

// NewStudents creates the student service.
func NewStudents(store Store) *Students {
	return &Students{store: store, validate: newValidator()}
}

// Enroll validates the form and creates the student. A registration number
// can only be enrolled once.
func (s *Students) Enroll(ctx context.Context, form EnrollForm) (*Student, error) {
	form.RegNum = strings.TrimSpace(form.RegNum)
	if err := s.validate.Struct(form); err != nil {
		return nil, validationError(err)
	}
	st := &Student{
		RegNum:      form.RegNum,
		Firstname:   strings.TrimSpace(form.Firstname),
		Lastname:    strings.TrimSpace(form.Lastname),
		PhoneNumber: form.PhoneNumber,
		Department:  strings.TrimSpace(form.Department),
		Level:       Level(form.Level),
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("a student is already enrolled with that registration number: %w", ErrConflict)
		}
		return nil, storageErr("create student", err)
	}
	return st, nil
}

// Identify finds an enrolled student by registration number.
func (s *Students) Identify(ctx context.Context, regNum string) (*Student, error) {
	st, err := s.store.StudentByRegNum(ctx, strings.TrimSpace(regNum))
	if err != nil {
		return nil, storageErr("identify student", err)
	}
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

// Get loads a student by id; (nil, nil) when the id is unknown.
func (s *Students) Get(ctx context.Context, id string) (*Student, error) {
	st, err := s.store.StudentByID(ctx, id)
	return st, storageErr("get student", err)
}

// Edit applies the non-empty fields of form to st.
func (s *Students) Edit(ctx context.Context, st *Student, form EditForm) (*Student, error) {
	if err := s.validate.Struct(form); err != nil {
		return nil, validationError(err)
	}
	next := *st
	if form.PhoneNumber != "" {
		next.PhoneNumber = form.PhoneNumber
	}
	if form.Department != "" {
		next.Department = strings.TrimSpace(form.Department)
	}
	if form.Level != 0 {
		next.Level = Level(form.Level)
	}
	if err := s.store.UpdateStudent(ctx, &next); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageErr("update student", err)
	}
	return &next, nil
}
