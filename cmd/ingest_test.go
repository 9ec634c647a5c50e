package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMentions(t *testing.T) {
	input := strings.Join([]string{
		`{"raw_name":"Acme Corp.","source":"email","linked_record_id":"PO-1"}`,
		``,
		`not json`,
		`  {"raw_name":"ACME Corporation","source":"invoice"}  `,
	}, "\n")

	mentions, lines, bad, err := readMentions(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, mentions, 2)
	assert.Equal(t, "Acme Corp.", mentions[0].RawName)
	assert.Equal(t, "email", mentions[0].Source)
	assert.Equal(t, "PO-1", mentions[0].LinkedRecordID)
	assert.Equal(t, "invoice", mentions[1].Source)
	assert.Equal(t, []int{1, 4}, lines)

	require.Len(t, bad, 1)
	assert.Equal(t, 3, bad[0].Line)
}

func TestReadMentionsRejectsOversizedLine(t *testing.T) {
	input := `{"raw_name":"` + strings.Repeat("a", maxLineBytes) + `","source":"email"}`

	_, _, _, err := readMentions(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
