// Package spam implements the rule-based gate new comments pass through
// before they become visible.
package spam

import (
	"regexp"
	"strings"

	"github.com/example/blog-platform/services/comments/internal/domain"
)

const (
	// MaxLinks is the number of URL scheme markers a comment may carry.
	MaxLinks = 3
	// MaxRecentComments is how many comments one identity may post inside
	// the trailing window before further ones are flagged.
	MaxRecentComments = 5
)

// Rule names reported in a Verdict.
const (
	RulePharma      = "pharma"
	RuleGambling    = "gambling"
	RuleLottery     = "lottery"
	RuleBait        = "bait"
	RuleCurrency    = "currency"
	RuleLowTrustTLD = "low_trust_tld"
	RuleLinkFlood   = "link_flood"
	RuleRate        = "rate"
)

type pattern struct {
	rule string
	re   *regexp.Regexp
}

var patterns = []pattern{
	{RulePharma, regexp.MustCompile(`(?i)\b(viagra|cialis|levitra|xanax|valium|tramadol|online\s+pharmacy)\b`)},
	{RuleGambling, regexp.MustCompile(`(?i)\b(casino|poker|roulette|slot\s*machines?|sports?\s*betting|bet\s+now)\b`)},
	{RuleLottery, regexp.MustCompile(`(?i)\b(lottery|jackpot|you\s+(have\s+)?won|claim\s+your\s+prize)\b`)},
	{RuleBait, regexp.MustCompile(`(?i)\b(click\s+here|buy\s+now|limited\s+time\s+offer|act\s+now)\b`)},
	{RuleCurrency, regexp.MustCompile(`(?i)(\${2,}|\bearn\s+\$|\$\s?\d[\d,]*\s*(per|a|an)\s+(day|hour|week)\b|\bmake\s+money\s+(fast|online)\b)`)},
	{RuleLowTrustTLD, regexp.MustCompile(`(?i)https?://[^\s/?#]+\.(xyz|top|click|loan|win|bid|work|gq|tk|ml|cf|ga)\b`)},
}

// Verdict is the detailed result of a check.
type Verdict struct {
	Spam  bool
	Rules []string
}

// Check runs every rule and reports which ones matched. The author name is
// matched against the same keyword patterns as the content.
func Check(content string, identity domain.Identity, recentCommentCount int) Verdict {
	var v Verdict
	for _, p := range patterns {
		if p.re.MatchString(content) || (identity.Name != "" && p.re.MatchString(identity.Name)) {
			v.Rules = append(v.Rules, p.rule)
		}
	}
	if countLinks(content) > MaxLinks {
		v.Rules = append(v.Rules, RuleLinkFlood)
	}
	if recentCommentCount > MaxRecentComments {
		v.Rules = append(v.Rules, RuleRate)
	}
	v.Spam = len(v.Rules) > 0
	return v
}

// Evaluate reports whether a comment should be stored as spam.
func Evaluate(content string, identity domain.Identity, recentCommentCount int) bool {
	return Check(content, identity, recentCommentCount).Spam
}

func countLinks(content string) int {
	lower := strings.ToLower(content)
	return strings.Count(lower, "http://") + strings.Count(lower, "https://")
}
