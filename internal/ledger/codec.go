package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	markerPrefix = "-----"

	beginUUID     = "-----BEGIN UUID-----"
	endUUID       = "-----END UUID-----"
	beginServices = "-----BEGIN SERVICES TO VERIFY-----"
	endServices   = "-----END SERVICES TO VERIFY-----"
	beginTasks    = "-----BEGIN TASKS TO VERIFY-----"
	endTasks      = "-----END TASKS TO VERIFY-----"
)

// Encode renders rec in the four-section marker layout.
// An empty list is written as one blank line so older readers still find
// the section boundaries.
func Encode(rec *Record) []byte {
	var b strings.Builder

	b.WriteString(beginUUID + "\n")
	b.WriteString(rec.AgentID.String() + "\n")
	b.WriteString(endUUID + "\n")

	writeSection(&b, beginServices, endServices, rec.Services)
	b.WriteString("\n")
	writeSection(&b, beginTasks, endTasks, rec.Tasks)

	return []byte(b.String())
}

func writeSection(b *strings.Builder, begin, end string, entries []string) {
	b.WriteString(begin + "\n")
	if len(entries) == 0 {
		b.WriteString("\n")
	} else {
		for _, e := range entries {
			b.WriteString(e + "\n")
		}
	}
	b.WriteString(end)
}

// Decode parses the marker layout line by line.
// Blank lines inside a list section are kept as blank entries.
func Decode(data []byte) (*Record, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")

	sections := []struct {
		begin, end string
	}{
		{beginUUID, endUUID},
		{beginServices, endServices},
		{beginTasks, endTasks},
	}

	bodies := make([][]string, len(sections))
	pos := 0
	for i, section := range sections {
		pos = skipBlank(lines, pos)
		if pos >= len(lines) || lines[pos] != section.begin {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformed, section.begin)
		}
		pos++

		start := pos
		for pos < len(lines) && lines[pos] != section.end {
			if strings.HasPrefix(lines[pos], markerPrefix) {
				return nil, fmt.Errorf("%w: unexpected marker %q inside section", ErrMalformed, lines[pos])
			}
			pos++
		}
		if pos >= len(lines) {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformed, section.end)
		}
		bodies[i] = lines[start:pos]
		pos++
	}

	if pos = skipBlank(lines, pos); pos < len(lines) {
		return nil, fmt.Errorf("%w: unexpected content after %s", ErrMalformed, endTasks)
	}

	id := visible(bodies[0])
	if len(id) != 1 {
		return nil, fmt.Errorf("%w: expected one agent id, found %d", ErrMalformed, len(id))
	}
	agentID, err := uuid.Parse(strings.TrimSpace(id[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid agent id: %v", ErrMalformed, err)
	}

	return &Record{
		AgentID:  agentID,
		Services: sectionEntries(bodies[1]),
		Tasks:    sectionEntries(bodies[2]),
	}, nil
}

// sectionEntries maps a section body to entries. A body of only blank lines
// is an empty list.
func sectionEntries(body []string) []string {
	if len(visible(body)) == 0 {
		return []string{}
	}
	out := make([]string, len(body))
	copy(out, body)
	return out
}

func skipBlank(lines []string, pos int) int {
	for pos < len(lines) && strings.TrimSpace(lines[pos]) == "" {
		pos++
	}
	return pos
}
