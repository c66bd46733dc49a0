package speech

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"

	model "github.com/zhouzirui/smartguard/internal/model/language"
)

// VoiceBook 按语言选择合成音色。
type VoiceBook struct {
	voices   []string
	matcher  language.Matcher
	fallback string
}

// NewVoiceBook 由 "语言标签 -> 音色" 映射构建音色表。未匹配的语言使用 fallback。
func NewVoiceBook(voices map[string]string, fallback string) (*VoiceBook, error) {
	keys := make([]string, 0, len(voices))
	for k := range voices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	book := &VoiceBook{fallback: fallback}
	tags := make([]language.Tag, 0, len(keys))
	for _, k := range keys {
		tag, err := language.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("invalid voice language %q: %w", k, err)
		}
		tags = append(tags, tag)
		book.voices = append(book.voices, voices[k])
	}
	if len(tags) > 0 {
		book.matcher = language.NewMatcher(tags)
	}
	return book, nil
}

// VoiceFor 返回 code 对应的音色，没有注册时返回默认音色。
func (b *VoiceBook) VoiceFor(code model.Code) string {
	if b == nil {
		return ""
	}
	if b.matcher == nil {
		return b.fallback
	}
	_, idx, conf := b.matcher.Match(code.Tag())
	if conf < language.High || idx < 0 || idx >= len(b.voices) {
		return b.fallback
	}
	return b.voices[idx]
}
