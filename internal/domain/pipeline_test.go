package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchResult(t *testing.T) {
	var b BatchResult
	b.OK("a.pdf")
	b.Fail("b.pdf", errors.New("parse failed"))
	b.Skip("c.pdf", errors.New("no figures"))
	b.OK("d.pdf")

	require.Equal(t, 2, b.Count(ItemOK))
	require.Equal(t, 1, b.Count(ItemFailed))
	require.Equal(t, 1, b.Count(ItemSkipped))
	require.Equal(t, []string{"b.pdf: parse failed"}, b.Errors())
}

func TestSearchParamsWithDefaults(t *testing.T) {
	p := SearchParams{}.WithDefaults("graph neural networks")
	require.Equal(t, SearchParams{
		Terms:     "graph neural networks",
		Field:     "title",
		Operator:  "AND",
		Abstracts: "show",
		Size:      50,
		Order:     "-submitted_date",
	}, p)

	p = SearchParams{Terms: "x", Size: 25}.WithDefaults("ignored")
	require.Equal(t, "x", p.Terms)
	require.Equal(t, 25, p.Size)
}
