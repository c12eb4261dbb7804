package csvtable

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	in := "\uFEFFTime, Close_Bid ,close_ask\n09:00,150.00,150.02\n\n09:01,150.01\n"
	tbl, err := New(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "close_bid", "close_ask"}, tbl.Names())
	assert.Equal(t, 1, tbl.Column("bid_close", "CLOSE_BID"))
	assert.Equal(t, -1, tbl.Column("volume"))

	row, err := tbl.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, row.Line)
	assert.Equal(t, "150.02", row.Get(2))

	row, err = tbl.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, row.Line)
	assert.Equal(t, "", row.Get(2))
	assert.Equal(t, "", row.Get(-1))

	_, err = tbl.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmptyInput(t *testing.T) {
	_, err := New(strings.NewReader(""))
	assert.Error(t, err)
}
