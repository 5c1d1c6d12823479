package crawler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCanAdvance(t *testing.T) {
	t.Parallel()

	allowed := [][2]Status{
		{StatusStarted, StatusStarted},
		{StatusStarted, StatusCrawled},
		{StatusStarted, StatusFailed},
		{StatusCrawled, StatusCrawled},
		{StatusCrawled, StatusFinished},
		{StatusCrawled, StatusFailed},
		{StatusFinished, StatusFinished},
	}
	for _, pair := range allowed {
		require.True(t, pair[0].CanAdvance(pair[1]), "%s -> %s", pair[0], pair[1])
	}

	refused := [][2]Status{
		{StatusCrawled, StatusStarted},
		{StatusFinished, StatusCrawled},
		{StatusFinished, StatusFailed},
		{StatusFailed, StatusFinished},
		{StatusStarted, "bogus"},
		{"bogus", StatusStarted},
	}
	for _, pair := range refused {
		require.False(t, pair[0].CanAdvance(pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestStatusErrorTemporary(t *testing.T) {
	t.Parallel()

	require.True(t, (&StatusError{Code: http.StatusTooManyRequests}).Temporary())
	require.True(t, (&StatusError{Code: http.StatusBadGateway}).Temporary())
	require.False(t, (&StatusError{Code: http.StatusForbidden}).Temporary())
	require.Equal(t, "jina: HTTP error! status: 403", (&StatusError{Service: "jina", Code: 403}).Error())
}
