package feed

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "just   text\n here", "just text here"},
		{"tags become spaces", "<p>Hello</p><p>World</p>", "Hello World"},
		{"entities decoded", "Tom &amp; Jerry &lt;3", "Tom & Jerry <3"},
		{"script dropped", "<p>keep</p><script>alert(1)</script><style>p{}</style>", "keep"},
		{"line breaks", "a<br/>b<br>c", "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}
