package feed

import (
	"strconv"
	"strings"
)

// Frame encodes one text event-stream record: an optional "event:" line,
// one "data:" line per line of data, an optional "retry:" line and a
// terminating blank line. No space follows the colons.
func Frame(event string, data []byte, retry int) []byte {
	var b strings.Builder
	if event != "" {
		b.WriteString("event:")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\n") {
		b.WriteString("data:")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	if retry > 0 {
		b.WriteString("retry:")
		b.WriteString(strconv.Itoa(retry))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
