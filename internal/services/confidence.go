package services

// AggregateConfidence folds OCR confidence and per-criterion judgment
// confidences into one figure. The mean of the criterion confidences is
// scaled by the OCR confidence: trust in a grade cannot exceed trust in
// the text it was computed on. With no criterion confidences the OCR
// figure (or zero) stands alone.
func AggregateConfidence(ocrConfidence *float64, criterionConfidences []float64) float64 {
	if len(criterionConfidences) == 0 {
		if ocrConfidence == nil {
			return 0
		}
		return clamp01(*ocrConfidence)
	}

	var sum float64
	for _, c := range criterionConfidences {
		sum += c
	}
	mean := sum / float64(len(criterionConfidences))

	scale := 1.0
	if ocrConfidence != nil {
		scale = *ocrConfidence
	}

	return clamp01(mean * scale)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
