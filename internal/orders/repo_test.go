package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLikePattern(t *testing.T) {
	cases := map[string]string{
		"basmati": "basmati",
		"100%":    `100\%`,
		"a_b":     `a\_b`,
		`c:\farm`: `c:\\farm`,
		`%_\`:     `\%\_\\`,
		"":        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, likePattern(in), "input %q", in)
	}
}
