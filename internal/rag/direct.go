package rag

import (
	"context"
	"strings"

	"github.com/perigee-labs/medrag/pkg/models"
)

// Direct operations run the generation collaborator over caller-supplied
// text without touching the index. They share the pipeline's generation
// timeout and default parameters.

const (
	directSummaryInstruction = "Summarize the following medical report, covering diagnoses, key findings, medications and follow-up recommendations."
	directAnswerInstruction  = "Answer the question using only the report below."
	labExtractionInstruction = "Extract the structured lab results from the following report. List each test with its name, value, unit and reference range."

	// defaultEHRQuery drives the analysis when the caller supplies none.
	defaultEHRQuery = "Summarize the key clinical information including diagnoses, medications, and treatment plans."
)

// SummarizeText summarizes the given report text directly. maxLength and
// temperature override the pipeline defaults when positive.
func (p *Pipeline) SummarizeText(ctx context.Context, text string, maxLength int, temperature float32) (models.TextSummary, error) {
	params := p.params
	if maxLength > 0 {
		params.MaxTokens = maxLength
	}
	if temperature > 0 {
		params.Temperature = temperature
	}

	out := models.TextSummary{InputLength: len(text)}
	summary, err := p.generateWith(ctx, directSummaryInstruction+"\n\n"+text, params)
	if err != nil {
		return out, err
	}
	out.Summary = summary
	out.SummaryLength = len(summary)

	p.log.Info().Int("input_len", len(text)).Int("summary_len", len(summary)).Msg("text summarized")
	return out, nil
}

// AnalyzeReport answers a question about the given report text.
func (p *Pipeline) AnalyzeReport(ctx context.Context, text, question string) (models.ReportAnswer, error) {
	prompt := directAnswerInstruction + "\n\nReport:\n" + text + "\n\nQuestion: " + question + "\nAnswer:"

	out := models.ReportAnswer{Question: question}
	answer, err := p.generate(ctx, prompt)
	if err != nil {
		return out, err
	}
	out.Answer = answer

	p.log.Info().Str("question", question).Msg("report analyzed")
	return out, nil
}

// ExtractLabData pulls structured values out of a lab report. The response
// is the model's raw text; no schema is imposed on it.
func (p *Pipeline) ExtractLabData(ctx context.Context, text string) (models.LabExtraction, error) {
	out := models.LabExtraction{InputLength: len(text)}
	raw, err := p.generate(ctx, labExtractionInstruction+"\n\n"+text)
	if err != nil {
		return out, err
	}
	out.RawResponse = raw

	p.log.Info().Int("input_len", len(text)).Msg("lab data extracted")
	return out, nil
}

// AnalyzeEHR analyzes electronic health record text against the query, or a
// default clinical-summary query when blank.
func (p *Pipeline) AnalyzeEHR(ctx context.Context, ehrText, query string) (models.EHRAnalysis, error) {
	if strings.TrimSpace(query) == "" {
		query = defaultEHRQuery
	}
	prompt := query + "\n\nRecords:\n" + ehrText

	out := models.EHRAnalysis{InputLength: len(ehrText)}
	analysis, err := p.generate(ctx, prompt)
	if err != nil {
		return out, err
	}
	out.Analysis = analysis

	p.log.Info().Int("input_len", len(ehrText)).Msg("ehr analyzed")
	return out, nil
}
