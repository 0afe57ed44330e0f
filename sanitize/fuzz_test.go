package sanitize

import "testing"

func FuzzSanitize(f *testing.F) {
	for _, in := range corpus {
		f.Add(in)
	}
	f.Add("<ul><p>hello</p></ul><ol>loose<li>item</li></ol>")
	f.Add("<a href=\"https://x\"><b>open")
	f.Fuzz(func(t *testing.T, in string) {
		once := Sanitize(in)
		checkBalanced(t, in, string(once))
		if twice := Sanitize(string(once)); twice != once {
			t.Fatalf("not idempotent for %q:\n once  %q\n twice %q", in, once, twice)
		}
		Lines(once)
	})
}
