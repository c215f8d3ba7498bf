package stdlib

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kristofer/policyvm/pkg/compiler"
	"github.com/kristofer/policyvm/pkg/parser"
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

func run(t *testing.T, src string) value.Value {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	code, err := compiler.Compile(program)
	if err != nil {
		t.Fatalf("compile error for %q: %v", src, err)
	}
	machine := vm.New()
	if err := Register(machine); err != nil {
		t.Fatalf("register stdlib: %v", err)
	}
	result, err := machine.Execute(code)
	if err != nil {
		t.Fatalf("execute error for %q: %v", src, err)
	}
	return result
}

func TestLen(t *testing.T) {
	if got := run(t, `return len("hello")`); got != value.Integer(5) {
		t.Fatalf("want 5, got %v", got)
	}
	if got := run(t, `return len([1,2,3])`); got != value.Integer(3) {
		t.Fatalf("want 3, got %v", got)
	}
}

func TestListAppendAndPop(t *testing.T) {
	got := run(t, `
xs = [1, 2]
xs.append(3)
xs.pop()
return xs
`)
	l, ok := got.(*value.List)
	if !ok || len(l.Elements) != 2 {
		t.Fatalf("want a 2-element list after append+pop, got %v", got)
	}
}

func TestDictKeysPreservesInsertionOrder(t *testing.T) {
	got := run(t, `
d = {z: 1, a: 2}
return d.keys()
`)
	l := got.(*value.List)
	if len(l.Elements) != 2 || l.Elements[0] != value.String("z") || l.Elements[1] != value.String("a") {
		t.Fatalf("want keys in insertion order [z, a], got %v", l.Elements)
	}
}

func TestStringFmtAndJoin(t *testing.T) {
	if got := run(t, `return "hi %s, you are %s".fmt("bob", "great")`); got != value.String("hi bob, you are great") {
		t.Fatalf("unexpected fmt result: %v", got)
	}
	if got := run(t, `return ",".join(["a","b","c"])`); got != value.String("a,b,c") {
		t.Fatalf("unexpected join result: %v", got)
	}
}

func TestListEachMapFilterAreDSLAuthored(t *testing.T) {
	// There are no closures, so a lambda can't reassign an outer global;
	// it mutates the shared List it reads instead.
	collected := run(t, `
seen = []
collect = x => seen.append(x * 10)
xs = [1,2,3]
xs.each(collect)
return seen
`)
	l := collected.(*value.List)
	if len(l.Elements) != 3 || l.Elements[0] != value.Integer(10) || l.Elements[2] != value.Integer(30) {
		t.Fatalf("want [10,20,30], got %v", l.Elements)
	}

	doubled := run(t, `
double = x => x * 2
return [1,2,3].map(double)
`)
	mapped := doubled.(*value.List)
	if len(mapped.Elements) != 3 || mapped.Elements[1] != value.Integer(4) {
		t.Fatalf("want [2,4,6], got %v", mapped.Elements)
	}

	evens := run(t, `
is_even = x => x % 2 == 0
return [1,2,3,4].filter(is_even)
`)
	filtered := evens.(*value.List)
	if len(filtered.Elements) != 2 || filtered.Elements[0] != value.Integer(2) || filtered.Elements[1] != value.Integer(4) {
		t.Fatalf("want [2,4], got %v", filtered.Elements)
	}
}

func TestRangeEachAndFilterButNotMap(t *testing.T) {
	seen := run(t, `
seen = []
collect = x => seen.append(x)
range(4).each(collect)
return seen
`)
	l := seen.(*value.List)
	if len(l.Elements) != 4 || l.Elements[0] != value.Integer(0) || l.Elements[3] != value.Integer(3) {
		t.Fatalf("want [0,1,2,3], got %v", l.Elements)
	}

	oddsOnly := run(t, `
is_odd = x => x % 2 != 0
return range(5).filter(is_odd)
`)
	filtered := oddsOnly.(*value.List)
	if len(filtered.Elements) != 2 || filtered.Elements[0] != value.Integer(1) || filtered.Elements[1] != value.Integer(3) {
		t.Fatalf("want [1,3], got %v", filtered.Elements)
	}
}

func TestCryptoAndEncodingNatives(t *testing.T) {
	got := run(t, `return sha256("abc")`)
	if got != value.String("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad") {
		// sha256("abc") hex digest, well-known test vector.
		t.Fatalf("unexpected sha256 digest: %v", got)
	}
	roundTrip := run(t, `return base64_decode(base64_encode("hello world"))`)
	if roundTrip != value.String("hello world") {
		t.Fatalf("want base64 round trip, got %v", roundTrip)
	}
	if got := run(t, `return base64_decode("not valid base64!!")`); got.Kind() != value.KindNil {
		t.Fatalf("want Nil for malformed base64, got %v", got)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	got := run(t, `return gzip_decompress(gzip_compress("payload text"))`)
	if got != value.String("payload text") {
		t.Fatalf("want gzip round trip, got %v", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	got := run(t, `
d = json_parse("{\"a\": 1, \"b\": [1,2,3]}")
return d["b"][1]
`)
	if got != value.Integer(2) {
		t.Fatalf("want 2, got %v", got)
	}
	if got := run(t, `return json_parse("not json")`); got.Kind() != value.KindNil {
		t.Fatalf("want Nil for malformed JSON, got %v", got)
	}
}

func TestRegexNatives(t *testing.T) {
	if got := run(t, `return regex_match("^[0-9]+$", "12345")`); got != value.Bool(true) {
		t.Fatalf("want true, got %v", got)
	}
	if got := run(t, `return regex_replace("[0-9]+", "v1 v2", "N")`); got != value.String("vN vN") {
		t.Fatalf("want vN vN, got %v", got)
	}
}

func TestRandomIntRespectsBounds(t *testing.T) {
	got := run(t, `return random_int(5, 5)`)
	if got != value.Integer(5) {
		t.Fatalf("want a degenerate range to always return 5, got %v", got)
	}
}

func TestAESRoundTrip(t *testing.T) {
	got := run(t, `
key = aes_generate_key()
return aes_decrypt(aes_encrypt("top secret policy", key), key)
`)
	if got != value.String("top secret policy") {
		t.Fatalf("want AES round trip, got %v", got)
	}
	if got := run(t, `return aes_decrypt("not valid base64!!", aes_generate_key())`); got.Kind() != value.KindNil {
		t.Fatalf("want Nil for malformed ciphertext, got %v", got)
	}
}

func TestZipRoundTrip(t *testing.T) {
	got := run(t, `return zip_decompress(zip_compress("archived payload"))`)
	if got != value.String("archived payload") {
		t.Fatalf("want zip round trip, got %v", got)
	}
	if got := run(t, `return zip_decompress("not a zip file")`); got.Kind() != value.KindNil {
		t.Fatalf("want Nil for a malformed zip archive, got %v", got)
	}
}

func TestFileReadWriteExistsDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy_stdlib_test.txt")
	src := fmt.Sprintf(`
path = %q
before = file_exists(path)
file_write(path, "hello from policy")
after = file_exists(path)
content = file_read(path)
file_delete(path)
gone = file_exists(path)
return [before, after, content, gone]
`, path)
	got := run(t, src)
	l := got.(*value.List)
	if len(l.Elements) != 4 {
		t.Fatalf("want a 4-element list, got %v", l.Elements)
	}
	if l.Elements[0] != value.Bool(false) {
		t.Fatalf("want file absent before write, got %v", l.Elements[0])
	}
	if l.Elements[1] != value.Bool(true) {
		t.Fatalf("want file present after write, got %v", l.Elements[1])
	}
	if l.Elements[2] != value.String("hello from policy") {
		t.Fatalf("want written content round trip, got %v", l.Elements[2])
	}
	if l.Elements[3] != value.Bool(false) {
		t.Fatalf("want file absent after delete, got %v", l.Elements[3])
	}
}

func TestRandomFloatIsADecimalInZeroOne(t *testing.T) {
	got := run(t, `return random_float()`)
	s, ok := got.(value.String)
	if !ok {
		t.Fatalf("want a String, got %T", got)
	}
	if !strings.HasPrefix(string(s), "0.") && s != "0" {
		t.Fatalf("want a decimal fraction in [0, 1), got %v", s)
	}
}

func TestTimeAccessors(t *testing.T) {
	// 2005-03-18T01:58:31Z, a fixed, well-known Unix timestamp.
	got := run(t, `
ts = 1111111111
return [time_year(ts), time_month(ts), time_day(ts), time_hour(ts), time_minute(ts), time_second(ts)]
`)
	l := got.(*value.List)
	want := []value.Value{
		value.Integer(2005), value.Integer(3), value.Integer(18),
		value.Integer(1), value.Integer(58), value.Integer(31),
	}
	for i, w := range want {
		if l.Elements[i] != w {
			t.Fatalf("field %d: want %v, got %v", i, w, l.Elements[i])
		}
	}
}

func TestDateFormatAndParse(t *testing.T) {
	got := run(t, `return date_format(0, "2006-01-02")`)
	if got != value.String("1970-01-01") {
		t.Fatalf("want epoch formatted as 1970-01-01, got %v", got)
	}
	parsed := run(t, `return date_parse("1970-01-01", "2006-01-02")`)
	if parsed != value.Integer(0) {
		t.Fatalf("want epoch seconds 0, got %v", parsed)
	}
	if got := run(t, `return date_parse("garbage", "2006-01-02")`); got.Kind() != value.KindNil {
		t.Fatalf("want Nil for unparseable date, got %v", got)
	}
}
