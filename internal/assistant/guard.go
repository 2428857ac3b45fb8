package assistant

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQuestionRunes bounds the question forwarded to the model.
const MaxQuestionRunes = 2000

// GuardReply answers a question that tried to steer the model away from its instructions.
const GuardReply = "I can help you with doctors, appointments and your medical reports. How can I assist you today?"

type guardPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

const guardBlockThreshold = 0.7

var guardPatterns = []guardPattern{
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?)`), "ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)new\s+role\s*:|new\s+instructions?\s*:|system\s*prompt\s*:|<<\s*sys(tem)?\s*>>`), "new_role", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode`), "jailbreak_keyword", 0.9},
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat|tell\s+me)\s+(your\s+)?(system\s+prompt|instructions|hidden\s+prompt|initial\s+prompt)`), "system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(list|show|give|tell)\s+(me\s+)?(all\s+)?(the\s+)?other\s+patient('?s)?\s+(data|names?|records?|reports?|appointments?)`), "other_patients", 0.8},
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>`), "special_tokens", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), "role_reassignment", 0.7},
	{regexp.MustCompile(`<\s*(script|iframe|object|embed)\b`), "html_injection", 0.6},
}

var (
	specialTokens = regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`)
	roleMarkers   = regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`)
	htmlTags      = regexp.MustCompile(`<\s*(script|img|iframe|object|embed|link|style|svg|form)\b[^>]*>`)
	markdownImage = regexp.MustCompile(`!\[.*?\]\(https?://[^)]+\)`)
)

// GuardResult is the outcome of screening a question.
type GuardResult struct {
	Blocked   bool
	Score     float64
	Reasons   []string
	Sanitized string
}

// ScreenQuestion scores a question for prompt injection and returns a cleaned copy.
func ScreenQuestion(question string) GuardResult {
	result := GuardResult{Sanitized: SanitizeQuestion(question)}
	if strings.TrimSpace(question) == "" {
		return result
	}
	maxWeight := 0.0
	for _, p := range guardPatterns {
		if p.re.MatchString(question) {
			result.Reasons = append(result.Reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}
	result.Score = maxWeight
	if n := len(result.Reasons); n > 1 {
		result.Score = min(1.0, maxWeight+float64(n-1)*0.1)
	}
	result.Blocked = result.Score >= guardBlockThreshold
	return result
}

// SanitizeQuestion strips model control markers and truncates to MaxQuestionRunes.
func SanitizeQuestion(question string) string {
	cleaned := specialTokens.ReplaceAllString(question, "")
	cleaned = roleMarkers.ReplaceAllString(cleaned, "")
	cleaned = htmlTags.ReplaceAllString(cleaned, "")
	cleaned = markdownImage.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxQuestionRunes {
		cleaned = string([]rune(cleaned)[:MaxQuestionRunes])
	}
	return cleaned
}
