package wsg

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_OneJSONLinePerViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsg.log")
	l := NewLog(path)

	require.NoError(t, l.Append(Violation{Kind: "GENERATION_BLOCKED", SubmissionID: "SUB-1", Message: "no document_type"}))
	require.NoError(t, l.Append(Violation{Kind: "INTEGRITY_TAMPERED", SubmissionID: "SUB-2", Message: "structural_hash_mismatch",
		Details: map[string]interface{}{"field": "patient_ref"}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Violation
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v Violation
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		lines = append(lines, v)
	}
	require.NoError(t, sc.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "GENERATION_BLOCKED", lines[0].Kind)
	assert.False(t, lines[0].Timestamp.IsZero(), "timestamp is stamped on append")
	assert.Equal(t, "structural_hash_mismatch", lines[1].Message)
	assert.Equal(t, "patient_ref", lines[1].Details["field"])
}

func TestAppend_SurvivesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsg.log")
	l := NewLog(path)

	require.NoError(t, l.Append(Violation{Kind: "A", Message: "first"}))
	require.NoError(t, os.Remove(path))
	require.NoError(t, l.Append(Violation{Kind: "B", Message: "after rotation"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "after rotation")
	assert.NotContains(t, string(raw), "first")
}
