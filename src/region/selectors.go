package region

import "regexp"

// QuestionSelectors is scanned in order during candidate discovery. Order matters:
// the scoring fallback only looks at the first selector with any match.
var QuestionSelectors = []string{
	// question containers
	".question", ".problem", ".quiz-item", ".test-item",
	".question-container", ".question-wrapper", ".question-box",
	".exercise", ".homework", ".assignment", ".exam-item",
	`[class*="question"]`, `[class*="problem"]`, `[class*="quiz"]`,
	`[id*="question"]`, `[id*="problem"]`, `[id*="quiz"]`,

	// multiple choice
	".multiple-choice", ".choice-question", ".radio-group",
	`[class*="choice"]`, `[class*="option"]`, ".options",
	`input[type="radio"]`, `input[type="checkbox"]`,

	// free text answers
	".essay-question", ".text-question", ".answer-area",
	`textarea[class*="answer"]`, `input[class*="answer"]`,
	"textarea", ".input-area", ".text-input",

	// learning platforms
	".ques", ".topic", ".subject", ".item", ".card",
	".question-wrap", ".problem-wrap", ".quiz-wrap",

	// generic content
	".content", ".main-content", ".question-content",
	"article", `section[class*="question"]`, ".container",

	// math and science
	".math-question", ".formula", ".equation",
	`[class*="math"]`, `[class*="formula"]`,
}

// OptionSelectors find answer options that belong next to a question.
var OptionSelectors = []string{
	`input[type="radio"]`, `input[type="checkbox"]`,
	".option", ".choice", `[class*="option"]`, `[class*="choice"]`,
	"li", `div[class*="item"]`,
}

// MediaSelectors find figures that belong next to a question.
var MediaSelectors = []string{"img", "canvas", "svg"}

// QuestionKeywords are matched as substrings of the lower-cased element text.
var QuestionKeywords = []string{
	"问题", "题目", "选择", "判断", "填空", "简答", "计算", "分析",
	"下列", "以下", "关于", "根据", "如果", "假设", "已知",
	"第", "题", "（", "）", "a.", "b.", "c.", "d.",

	"question", "problem", "choose", "select", "answer",
	"which", "what", "how", "why", "when", "where",
	"true", "false", "correct", "incorrect",
	"a)", "b)", "c)", "d)", "option",
}

var (
	optionLabelPattern = regexp.MustCompile(`[A-D]\.|[1-4]\.|[A-D]）|[1-4]）`)
	mathSymbolPattern  = regexp.MustCompile(`[∑∫∂√π≤≥≠±×÷]`)
)
