package bookmarks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/crawler"
)

const export = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
<DL><p>
    <DT><H3 ADD_DATE="1700000000">Bookmarks bar</H3>
    <DL><p>
        <DT><A HREF="https://go.dev/doc/" ADD_DATE="1700000100">Documentation - The Go Programming Language</A>
        <DT><H3>Reading</H3>
        <DL><p>
            <DT><A HREF="https://example.com/post">A post</A>
            <DT><A HREF="javascript:alert(1)">bookmarklet</A>
        </DL><p>
    </DL><p>
    <DT><A HREF="https://go.dev/doc/">Duplicate</A>
    <DT><A HREF="place:sort=8">Firefox query</A>
</DL><p>
`

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(export))
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, "https://go.dev/doc/", got[0].URL)
	require.Equal(t, "Documentation - The Go Programming Language", got[0].Title)
	require.Equal(t, "Bookmarks bar", got[0].Folder)
	require.Equal(t, time.Unix(1700000100, 0).UTC(), got[0].AddedAt)

	require.Equal(t, "https://example.com/post", got[1].URL)
	require.Equal(t, "Bookmarks bar/Reading", got[1].Folder)
	require.True(t, got[1].AddedAt.IsZero())

	require.Empty(t, got[2].Folder)
}

func TestTargetsDropsDuplicates(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(export))
	require.NoError(t, err)
	require.Equal(t, []crawler.CrawlTarget{
		{URL: "https://go.dev/doc/", Type: crawler.CrawlTypeBookmarks},
		{URL: "https://example.com/post", Type: crawler.CrawlTypeBookmarks},
	}, Targets(got))
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bookmarks.html")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))
	got, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, got, 3)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.html"))
	require.ErrorContains(t, err, "open bookmark export")
}
