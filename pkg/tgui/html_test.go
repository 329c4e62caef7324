package tgui

import "testing"

func TestHTMLHelpersEscape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  H
		want string
	}{
		{name: "bold", got: B("a<b"), want: "<b>a&lt;b</b>"},
		{name: "italic", got: I("x & y"), want: "<i>x &amp; y</i>"},
		{name: "code", got: Code("<tag>"), want: "<code>&lt;tag&gt;</code>"},
		{name: "link", got: Link(`say "hi"`, `https://x.test/?a=1&b="2"`), want: `<a href="https://x.test/?a=1&amp;b=&#34;2&#34;">say &#34;hi&#34;</a>`},
		{name: "link without url", got: Link("plain", " "), want: "plain"},
		{name: "wrap keeps inner", got: Wrap("b", Link("t", "u")), want: `<b><a href="u">t</a></b>`},
		{name: "join skips blank", got: JoinH("\n", B("a"), "", Raw("  "), I("b")), want: "<b>a</b>\n<i>b</i>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if tc.got.String() != tc.want {
				t.Fatalf("got %q want %q", tc.got, tc.want)
			}
		})
	}
}
