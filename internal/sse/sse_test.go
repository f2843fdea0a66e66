package sse

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// feedInChunks feeds input to a fresh splitter size bytes at a time and
// returns every line it produced plus whatever Flush returned.
func feedInChunks(input string, size int) []string {
	var s LineSplitter
	var lines []string
	for i := 0; i < len(input); i += size {
		end := min(i+size, len(input))
		got, err := s.Feed([]byte(input[i:end]))
		Expect(err).NotTo(HaveOccurred())
		lines = append(lines, got...)
	}
	if tail, ok := s.Flush(); ok {
		lines = append(lines, tail)
	}
	return lines
}

var _ = Describe("LineSplitter", func() {
	It("splits complete lines", func() {
		var s LineSplitter
		Expect(s.Feed([]byte("data: a\n\ndata: b\n"))).To(Equal([]string{"data: a", "", "data: b"}))
		Expect(s.Pending()).To(BeZero())
	})

	It("holds back a partial line until it completes", func() {
		var s LineSplitter
		Expect(s.Feed([]byte("da"))).To(BeEmpty())
		Expect(s.Feed([]byte("ta: hel"))).To(BeEmpty())
		Expect(s.Pending()).To(Equal(len("data: hel")))
		Expect(s.Feed([]byte("lo\n"))).To(Equal([]string{"data: hello"}))
		Expect(s.Pending()).To(BeZero())
	})

	It("strips carriage returns from CRLF streams", func() {
		var s LineSplitter
		Expect(s.Feed([]byte("data: x\r\n\r\n"))).To(Equal([]string{"data: x", ""}))
	})

	It("frames identically regardless of chunk boundaries", func() {
		input := "event: token\ndata: {\"token\":\"Hel\"}\n\ndata: {\"token\":\"lo\"}\n\n: ping\n\ndata: tail"
		want := feedInChunks(input, len(input))
		for size := 1; size <= 9; size++ {
			Expect(feedInChunks(input, size)).To(Equal(want), "chunk size %d", size)
		}
		Expect(want[len(want)-1]).To(Equal("data: tail"))
	})

	It("keeps multi-byte characters intact across a split", func() {
		input := "data: café ☕\n"
		Expect(feedInChunks(input, 1)).To(Equal([]string{"data: café ☕"}))
	})

	It("scans a long line fed byte by byte only once", func() {
		line := strings.Repeat("x", 64<<10)
		var s LineSplitter
		for i := 0; i < len(line); i++ {
			got, err := s.Feed([]byte{line[i]})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		}
		Expect(s.Pending()).To(Equal(len(line)))
		Expect(s.Feed([]byte("\n"))).To(Equal([]string{line}))
	})

	It("keeps the tail when a chunk completes several lines", func() {
		var s LineSplitter
		Expect(s.Feed([]byte("a\nb\npar"))).To(Equal([]string{"a", "b"}))
		Expect(s.Feed([]byte("tial\n"))).To(Equal([]string{"partial"}))
	})

	It("rejects a partial line longer than MaxLine", func() {
		s := LineSplitter{MaxLine: 8}
		lines, err := s.Feed([]byte("ok\n0123456789"))
		Expect(err).To(MatchError(ErrLineTooLong))
		Expect(lines).To(Equal([]string{"ok"}))
		Expect(s.Pending()).To(BeZero())
	})

	It("returns nothing on Flush when empty", func() {
		var s LineSplitter
		_, ok := s.Flush()
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("line classification", func() {
	DescribeTable("DataValue",
		func(line, want string, ok bool) {
			got, gotOK := DataValue(line)
			Expect(gotOK).To(Equal(ok))
			Expect(got).To(Equal(want))
		},
		Entry("with space", "data: hello", "hello", true),
		Entry("without space", "data:hello", "hello", true),
		Entry("keeps extra spaces", "data:  two", " two", true),
		Entry("empty value", "data:", "", true),
		Entry("event line", "event: x", "", false),
		Entry("blank", "", "", false),
	)

	It("recognises non-data fields and comments", func() {
		Expect(IsField("event: message_part")).To(BeTrue())
		Expect(IsField("id: 7")).To(BeTrue())
		Expect(IsField("retry: 3000")).To(BeTrue())
		Expect(IsField("event")).To(BeTrue())
		Expect(IsField("data: x")).To(BeFalse())
		Expect(IsField("{\"raw\":true}")).To(BeFalse())
		Expect(IsComment(": keep-alive")).To(BeTrue())
		Expect(IsComment("data: x")).To(BeFalse())
	})
})

var _ = Describe("records", func() {
	It("formats a data record with one blank line", func() {
		Expect(string(FormatData("x"))).To(Equal("data: x\n\n"))
	})

	It("formats an error record with an escaped message", func() {
		rec := string(ErrorRecord(`upstream said "no"`))
		Expect(rec).To(HavePrefix(DataPrefix))
		Expect(rec).To(HaveSuffix("}\n\n"))
		Expect(strings.Count(rec, "\n\n")).To(Equal(1))

		var p ErrorPayload
		Expect(json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(rec, DataPrefix))), &p)).To(Succeed())
		Expect(p).To(Equal(ErrorPayload{Type: "error", Message: `upstream said "no"`}))
	})
})

var _ = Describe("DecodeToken", func() {
	DescribeTable("decodes payloads",
		func(value string, want Token) {
			Expect(DecodeToken(value)).To(Equal(want))
		},
		Entry("token field", `{"token":"Hel"}`, Token{Kind: KindToken, Text: "Hel"}),
		Entry("content field", `{"content":"lo"}`, Token{Kind: KindContent, Text: "lo"}),
		Entry("text field", `{"text":"!"}`, Token{Kind: KindText, Text: "!"}),
		Entry("token beats content and text", `{"text":"c","content":"b","token":"a"}`, Token{Kind: KindToken, Text: "a"}),
		Entry("content beats text", `{"text":"c","content":"b"}`, Token{Kind: KindContent, Text: "b"}),
		Entry("empty token falls through", `{"token":"","content":"b"}`, Token{Kind: KindContent, Text: "b"}),
		Entry("non-string token falls through", `{"token":3,"text":"t"}`, Token{Kind: KindText, Text: "t"}),
		Entry("object without fields", `{"type":"status","stage":"search"}`, Token{Kind: KindNone}),
		Entry("plain text", "plain-text", Token{Kind: KindRaw, Text: "plain-text"}),
		Entry("truncated JSON", `{"token":"Hel`, Token{Kind: KindRaw, Text: `{"token":"Hel`}),
		Entry("JSON number", "42", Token{Kind: KindRaw, Text: "42"}),
		Entry("JSON null", "null", Token{Kind: KindRaw, Text: "null"}),
		Entry("done sentinel", "[DONE]", Token{Kind: KindDone}),
		Entry("empty payload", "", Token{Kind: KindNone}),
		Entry("error record", `{"type":"error","message":"upstream unavailable"}`, Token{Kind: KindError, Text: "upstream unavailable"}),
		Entry("error record with error field", `{"type":"error","error":"boom"}`, Token{Kind: KindError, Text: "boom"}),
	)

	It("reports which kinds carry text", func() {
		Expect(Token{Kind: KindRaw}.HasText()).To(BeTrue())
		Expect(Token{Kind: KindToken}.HasText()).To(BeTrue())
		Expect(Token{Kind: KindDone}.HasText()).To(BeFalse())
		Expect(Token{Kind: KindError}.HasText()).To(BeFalse())
		Expect(Token{Kind: KindNone}.HasText()).To(BeFalse())
	})
})
