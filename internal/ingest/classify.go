package ingest

import (
	"lpr-service/internal/domain/lpr"
)

const smartDetectionType = "smart_detection"

// Classify picks the wire format of p from structural markers. The vendor does
// not version its payloads, so the first matching rule wins and no payload is
// checked against a second rule.
func Classify(p *Payload) lpr.Format {
	if p == nil {
		return lpr.FormatUnrecognized
	}
	if len(list(p.alarm()["triggers"])) > 0 {
		return lpr.FormatAlarmTrigger
	}
	if p.Type() == smartDetectionType {
		return lpr.FormatSmartDetection
	}
	return lpr.FormatUnrecognized
}
