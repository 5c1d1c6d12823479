package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{name: "bare object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "prose around", in: "Here you go: {\"a\":1} hope that helps", want: `{"a":1}`},
		{name: "code fence", in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{name: "greedy span", in: `{"a":1} and {"b":2}`, err: true},
		{name: "nested braces in strings", in: `x {"s":"}{"} y`, want: `{"s":"}{"}`},
		{name: "no object", in: "nothing here", err: true},
		{name: "closing before opening", in: "} {", err: true},
		{name: "empty", in: "", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tc.in)
			if tc.err {
				require.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(got))
		})
	}
}
