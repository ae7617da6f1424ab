package llm

import (
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/worksheet"
)

func minimalRequest() generation.Request {
	return generation.Request{
		SessionID: "s-1",
		Step0:     worksheet.Step0{Values: []string{"autonomy"}, Interests: []string{"design"}, Strengths: []string{"writing"}},
		Step1:     worksheet.Step1{ProblemDefinition: "career choice"},
		Step2:     worksheet.Step2{EvaluationCriteria: []string{"salary"}},
	}
}
