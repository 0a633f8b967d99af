package execx

import "testing"

func TestLastStdoutLine(t *testing.T) {
	cases := map[string]string{
		"5.333\n":                   "5.333",
		"info line\n2.0\n":          "2.0",
		"info line\n2.0\n\n  \n":    "2.0",
		"":                          "",
		"\n\n":                      "",
		"single":                    "single",
		"a\r\nb\r\n":                "b",
		"warning: x\n0.5\ntrailing": "trailing",
	}
	for in, want := range cases {
		r := Result{Stdout: in}
		if got := r.LastStdoutLine(); got != want {
			t.Errorf("LastStdoutLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Bin: "ffmpeg", Args: []string{"-y", "-i", "in.wav", "out.wav"}}
	if got := c.String(); got != "ffmpeg -y -i in.wav out.wav" {
		t.Errorf("String() = %q", got)
	}
}
