// Package fieldvisit defines the fulfillment contract a field worker must
// satisfy before submitted evidence is accepted: every lab test the clinician
// ordered needs a result image, and every requested feedback modality needs a
// matching part of the field report.
package fieldvisit

import "strings"

// Modality is one kind of field report feedback.
type Modality string

const (
	ModalityPictures Modality = "pictures"
	ModalityVideos   Modality = "videos"
	ModalityText     Modality = "text"
)

// Requirements is what a dispatch (or follow-up request) demands.
type Requirements struct {
	LabTests []string   `json:"lab_tests"`
	Feedback []Modality `json:"feedback"`
}

// LabResult is one collected sample result.
type LabResult struct {
	TestName string `json:"test_name"`
	ImageRef string `json:"image_ref"`
}

// Report is the field worker's observation report.
type Report struct {
	Text        string   `json:"text,omitempty"`
	PictureRefs []string `json:"picture_refs,omitempty"`
	VideoRefs   []string `json:"video_refs,omitempty"`
}

// Bundle is the candidate evidence a field worker submits.
type Bundle struct {
	LabResults []LabResult `json:"lab_results"`
	Report     *Report     `json:"report,omitempty"`
}

// Result reports whether a bundle satisfies the requirements and, if not,
// exactly what is missing so the worker can correct the submission.
type Result struct {
	Satisfied       bool       `json:"satisfied"`
	MissingLabTests []string   `json:"missing_lab_tests,omitempty"`
	MissingFeedback []Modality `json:"missing_feedback,omitempty"`
}

// Validate checks a bundle against requirements. Test names match
// case-insensitively after trimming; a lab result without an image reference
// does not count.
func Validate(req Requirements, b Bundle) Result {
	provided := make(map[string]bool, len(b.LabResults))
	for _, lr := range b.LabResults {
		if lr.ImageRef == "" {
			continue
		}
		provided[normalize(lr.TestName)] = true
	}

	var result Result
	for _, test := range req.LabTests {
		if !provided[normalize(test)] {
			result.MissingLabTests = append(result.MissingLabTests, test)
		}
	}

	for _, modality := range req.Feedback {
		if !hasModality(b.Report, modality) {
			result.MissingFeedback = append(result.MissingFeedback, modality)
		}
	}

	result.Satisfied = len(result.MissingLabTests) == 0 && len(result.MissingFeedback) == 0
	return result
}

func hasModality(r *Report, m Modality) bool {
	if r == nil {
		return false
	}
	switch m {
	case ModalityText:
		return strings.TrimSpace(r.Text) != ""
	case ModalityPictures:
		return len(r.PictureRefs) > 0
	case ModalityVideos:
		return len(r.VideoRefs) > 0
	}
	return false
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
