package domain

import (
	"encoding/json"
	"fmt"
)

// EncodeInputData returns the request_type discriminator and the JSON
// payload to store alongside it in the queue row's input_data column.
func EncodeInputData(d InputData) (RequestType, []byte, error) {
	rt := d.requestType()
	b, err := json.Marshal(d)
	if err != nil {
		return "", nil, fmt.Errorf("op=domain.EncodeInputData: %w", err)
	}
	return rt, b, nil
}

// DecodeInputData reconstructs the typed InputData variant for a given
// request_type discriminator and JSON payload. Unknown/unimplemented
// variants decode to their placeholder type so the store never has to
// special-case them; only the dispatcher rejects them at claim time.
func DecodeInputData(rt RequestType, payload []byte) (InputData, error) {
	switch rt {
	case RequestTypeChat:
		var c ChatInput
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("op=domain.DecodeInputData: %w", err)
		}
		return c, nil
	case RequestTypeMeetingTranscription:
		return MeetingTranscriptionInput{}, nil
	case RequestTypeDocumentAnalysis:
		return DocumentAnalysisInput{}, nil
	case RequestTypeComplianceCheck:
		return ComplianceCheckInput{}, nil
	default:
		return nil, fmt.Errorf("op=domain.DecodeInputData: %w: %s", ErrUnsupportedRequestType, rt)
	}
}
