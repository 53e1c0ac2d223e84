package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	table := &Table{
		Name:   "cartera_2024-03-15",
		Header: []string{"Pagaré", "Nombre", "Saldo"},
		Rows: [][]string{
			{"1001", `Juan "JJ" Pérez`, "1500000"},
			{"1002", "López, Ana", ""},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))

	expected := "\ufeff" +
		`"Pagaré","Nombre","Saldo"` + "\n" +
		`"1001","Juan ""JJ"" Pérez","1500000"` + "\n" +
		`"1002","López, Ana",""`
	assert.Equal(t, expected, buf.String())
	assert.Equal(t, "cartera_2024-03-15.csv", table.Filename())
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &Table{Name: "vacio", Header: []string{"A"}}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\ufeff"))
	assert.Equal(t, `"A"`, strings.TrimPrefix(out, "\ufeff"))
}
