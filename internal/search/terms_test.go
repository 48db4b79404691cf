package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTermsDeduplicatesCaseSensitive(t *testing.T) {
	t.Parallel()

	report := ParseTerms(" SKU1, sku1, SKU2  SKU1")

	require.Equal(t, []string{"SKU1", "sku1", "SKU2"}, report.Terms)
	require.Equal(t, []string{"SKU1"}, report.Duplicates)
	require.Equal(t, 1, report.DuplicateCount)
	require.False(t, report.ContainsEACodes)
}

func TestParseTermsDetectsSpecialCodes(t *testing.T) {
	t.Parallel()

	report := ParseTerms("10EA 20ea")
	require.True(t, report.ContainsEACodes)
	require.Equal(t, []string{"10EA", "20ea"}, report.Terms)

	report = ParseTerms("PLAIN1 PLAIN2")
	require.False(t, report.ContainsEACodes)
}

func TestParseTermsEmptyInput(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", ", ,\t\n"} {
		report := ParseTerms(raw)
		require.Empty(t, report.Terms)
		require.Empty(t, report.Duplicates)
		require.Zero(t, report.DuplicateCount)
	}
}

func TestParseTermsAccountsForEveryToken(t *testing.T) {
	t.Parallel()

	report := ParseTerms("a b c a b a,,,c")
	require.Equal(t, []string{"a", "b", "c"}, report.Terms)
	require.Equal(t, []string{"a", "b", "a", "c"}, report.Duplicates)
	require.Equal(t, 7, len(report.Terms)+len(report.Duplicates))
}
