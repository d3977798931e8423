package normalize

import (
	"net/http"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestSortString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "cba", want: "abc"},
		{in: `{"b":1,"a":2}`, want: `"""",12::ab{}`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Check(t, cmp.Equal(SortString(tt.in), tt.want))
		})
	}

	t.Run("binary bodies sort by byte", func(t *testing.T) {
		k := SortStringKey()
		a := k(string([]byte{0xff, 0x01}))
		assert.Check(t, a != k(string([]byte{0xfe, 0x01})))
		assert.Check(t, cmp.Equal(a, string([]byte{0x01, 0xff})))
		assert.Check(t, cmp.Equal(a, k(string([]byte{0x01, 0xff}))))
	})

	t.Run("permutations are equal", func(t *testing.T) {
		k := SortStringKey()
		assert.Check(t, cmp.Equal(k("a=1&b=2"), k("b=2&a=1")))
	})
}

func TestFilterQueryParams(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		remove []string
		want   string
	}{
		{
			name:   "removes the volatile param",
			url:    "/x?token=abc&y=1",
			remove: []string{"token"},
			want:   "/x?y=1",
		},
		{
			name:   "absent param is a no-op",
			url:    "http://example.com/items?y=1",
			remove: []string{"token"},
			want:   "http://example.com/items?y=1",
		},
		{
			name:   "removing every param drops the query",
			url:    "https://example.com/a?token=abc",
			remove: []string{"token"},
			want:   "https://example.com/a",
		},
		{
			name:   "remaining params are sorted",
			url:    "/x?b=2&ts=99&a=1",
			remove: []string{"ts"},
			want:   "/x?a=1&b=2",
		},
		{
			name:   "repeated params all go",
			url:    "/x?token=1&token=2&y=1",
			remove: []string{"token"},
			want:   "/x?y=1",
		},
		{
			name:   "semicolon separated query is still filtered",
			url:    "/x?y=1;token=abc",
			remove: []string{"token"},
			want:   "/x?y=1",
		},
		{
			name:   "badly escaped query keeps its other segments",
			url:    "/x?b=%zz&token=abc&a=1",
			remove: []string{"token"},
			want:   "/x?a=1&b=%zz",
		},
		{
			name: "empty url",
			url:  "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Check(t, cmp.Equal(FilterQueryParams(tt.url, tt.remove...), tt.want))
		})
	}

	t.Run("differing tokens normalise equal", func(t *testing.T) {
		k := FilterQueryParamsKey("token")
		assert.Check(t, cmp.Equal(k("/x?token=abc&y=1"), k("/x?token=xyz&y=1")))
		assert.Check(t, cmp.Equal(k("/x?token=abc&y=1"), "/x?y=1"))
	})
}

func TestSortQueryKey(t *testing.T) {
	k := SortQueryKey()
	assert.Check(t, cmp.Equal(k("/x?b=2&a=1"), k("/x?a=1&b=2")))
}

func TestFilterHeaders(t *testing.T) {
	in := http.Header{
		"Date":         {"Mon, 01 Jan 2024 00:00:00 GMT"},
		"X-Request-Id": {"123"},
		"Accept":       {"application/json"},
	}

	out := FilterHeaders(in, "date", "X-Request-Id", "Not-There")
	assert.Check(t, cmp.DeepEqual(out, http.Header{"Accept": {"application/json"}}))

	t.Run("input is not mutated", func(t *testing.T) {
		assert.Check(t, cmp.Len(in, 3))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Check(t, cmp.Nil(FilterHeaders(nil, "Date")))
	})

	t.Run("key func", func(t *testing.T) {
		k := FilterHeadersKey(DefaultVolatileHeaders...)
		assert.Check(t, cmp.DeepEqual(k(in), http.Header{"Accept": {"application/json"}}))
	})
}

func TestOnlyHeadersKey(t *testing.T) {
	k := OnlyHeadersKey("accept")
	out := k(http.Header{
		"Accept": {"text/plain"},
		"Date":   {"today"},
	})
	assert.Check(t, cmp.DeepEqual(out, http.Header{"Accept": {"text/plain"}}))
	assert.Check(t, cmp.Nil(k(nil)))
}

func TestChain(t *testing.T) {
	k := Chain(TrimSpaceKey(), nil, SortStringKey())
	assert.Check(t, cmp.Equal(k(" cba\n"), "abc"))
}
