package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yosoku/internal/common"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Headlines</title>
<item><title>Takara Bio &amp; partner expand trial</title><link>https://example.com/1</link><pubDate>Mon, 11 Mar 2024 09:00:00 +0000</pubDate></item>
<item><title><![CDATA[<b>Shares</b> climb 5%]]></title><link>https://example.com/2</link></item>
<item><title></title><link>https://example.com/empty</link></item>
<item><title>Third story</title><link>https://example.com/3</link></item>
</channel></rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4588.T", r.URL.Query().Get("s"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssBody))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAll_IsolatesFailingSources(t *testing.T) {
	srv := newFeedServer(t)

	f := NewFetcher([]common.FeedSource{
		{Name: "broken", URL: srv.URL + "/broken?s={symbol}"},
		{Name: "good", URL: srv.URL + "/good?s={symbol}"},
		{Name: "garbage", URL: srv.URL + "/garbage"},
	}, WithItemsPerFeed(2))

	results := f.FetchAll(context.Background(), "4588.T")
	require.Len(t, results, 3, "one result per source, in configured order")

	assert.Equal(t, "broken", results[0].Source)
	assert.True(t, results[0].Failed())
	assert.Empty(t, results[0].Headlines)

	good := results[1]
	assert.Equal(t, "good", good.Source)
	require.False(t, good.Failed())
	require.Len(t, good.Headlines, 2)
	assert.Equal(t, "Takara Bio & partner expand trial", good.Headlines[0].Title)
	assert.Equal(t, "Shares climb 5%", good.Headlines[1].Title)
	assert.Equal(t, "good", good.Headlines[0].Source)
	assert.Equal(t, 2024, good.Headlines[0].PublishedAt.Year())

	assert.True(t, results[2].Failed())
}

func TestFetchAll_NoSources(t *testing.T) {
	f := NewFetcher(nil)
	assert.Empty(t, f.FetchAll(context.Background(), "7203.T"))
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "https://feeds.example.com/rss?s=BRK%26B", feedURL("https://feeds.example.com/rss?s={symbol}", "BRK&B"))
	assert.Equal(t, "https://feeds.example.com/static", feedURL("https://feeds.example.com/static", "7203.T"))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain", stripHTML("  plain  "))
	assert.Equal(t, "bold text", stripHTML("<b>bold</b>   text"))
	assert.Equal(t, "a & b", stripHTML("a &amp; b"))
	assert.Equal(t, "", stripHTML(""))
}
