package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	assert.Error(t, err)
}

func TestGetMultiline_DoubleEnter(t *testing.T) {
	var out bytes.Buffer
	got, err := GetMultiline(rdr("a\nb\n\n\n"), "Enter text", &out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)
}

func TestGetMultiline_EOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetMultiline(rdr("a\r\nb"), "Enter text", &out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)
}

func TestGetPIN(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	readPassword = func(int) ([]byte, error) { return []byte("1234"), nil }
	var out bytes.Buffer
	pin, err := GetPIN(&out, "Enter PIN: ")
	require.NoError(t, err)
	assert.Equal(t, []byte("1234"), pin)
	assert.Equal(t, "Enter PIN: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
	_, err = GetPIN(&out, "Enter PIN: ")
	assert.Error(t, err)
}

func TestGetList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "items are trimmed", input: "Metformin 500mg, Lisinopril ,\n", expected: []string{"Metformin 500mg", "Lisinopril"}},
		{name: "empty line gives nil", input: "\n", expected: nil},
		{name: "single item", input: "Penicillin\n", expected: []string{"Penicillin"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetList(rdr(tc.input), "Medications", &out)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestGetNumbers(t *testing.T) {
	var out bytes.Buffer

	n, err := GetInt(rdr("72\n"), "Heart rate", &out)
	require.NoError(t, err)
	assert.Equal(t, 72, n)

	n, err = GetInt(rdr("\n"), "Heart rate", &out)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = GetInt(rdr("fast\n"), "Heart rate", &out)
	assert.ErrorContains(t, err, "not a number")

	f, err := GetFloat(rdr("36.6\n"), "Temperature", &out)
	require.NoError(t, err)
	assert.InDelta(t, 36.6, f, 0.001)

	_, err = GetFloat(rdr("warm\n"), "Temperature", &out)
	assert.Error(t, err)
}
