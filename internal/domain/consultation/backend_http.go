package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/domain/patient"
	"github.com/healiinn/consult/internal/domain/prescription"
	"github.com/healiinn/consult/internal/domain/queue"
)

// connectivityWarnInterval caps identical backend-unreachable warnings to
// one per operation per interval so a flaky link does not flood the log.
const connectivityWarnInterval = 30 * time.Second

// httpBackend implements Backend against the clinic REST API.
type httpBackend struct {
	baseURL  string
	doctorID string
	client   *http.Client
	log      zerolog.Logger

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// NewHTTPBackend returns a Backend talking to the clinic API at baseURL.
func NewHTTPBackend(baseURL, doctorID string, timeout time.Duration, logger zerolog.Logger) Backend {
	return &httpBackend{
		baseURL:  baseURL,
		doctorID: doctorID,
		client:   &http.Client{Timeout: timeout},
		log:      logger,
		lastWarn: make(map[string]time.Time),
	}
}

func (b *httpBackend) warnConnectivity(op string, err error) {
	b.warnMu.Lock()
	last, ok := b.lastWarn[op]
	now := time.Now()
	if !ok || now.Sub(last) >= connectivityWarnInterval {
		b.lastWarn[op] = now
		b.warnMu.Unlock()
		b.log.Warn().Err(err).Str("op", op).Msg("backend unreachable")
		return
	}
	b.warnMu.Unlock()
}

// do performs one API call and maps the response onto the error taxonomy:
// transport failures wrap ErrConnectivity, 404 wraps ErrNotFound, 409
// wraps ErrAlreadyExists, anything else non-2xx is an opaque error.
func (b *httpBackend) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.doctorID != "" {
		req.Header.Set("X-Doctor-ID", b.doctorID)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.warnConnectivity(op, err)
		return fmt.Errorf("%s: %w: %v", op, ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: backend returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (b *httpBackend) FetchConsultationsForDoctor(ctx context.Context) ([]*Consultation, error) {
	var list []*Consultation
	if err := b.do(ctx, "fetch consultations", http.MethodGet, "/api/v1/doctor/consultations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (b *httpBackend) FetchConsultationByID(ctx context.Context, id string) (*Consultation, error) {
	var c Consultation
	if err := b.do(ctx, "fetch consultation", http.MethodGet, "/api/v1/consultations/"+url.PathEscape(id), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *httpBackend) CreateConsultation(ctx context.Context, appointmentID string, fields ClinicalFields) (*Consultation, error) {
	payload := struct {
		AppointmentID string `json:"appointment_id"`
		ClinicalFields
	}{AppointmentID: appointmentID, ClinicalFields: fields}

	var c Consultation
	if err := b.do(ctx, "create consultation", http.MethodPost, "/api/v1/consultations", payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *httpBackend) UpdateConsultation(ctx context.Context, id string, fields ClinicalFields) (*Consultation, error) {
	var c Consultation
	if err := b.do(ctx, "update consultation", http.MethodPut, "/api/v1/consultations/"+url.PathEscape(id), fields, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *httpBackend) FetchPatientByID(ctx context.Context, id string) (*patient.Profile, error) {
	var p patient.Profile
	if err := b.do(ctx, "fetch patient", http.MethodGet, "/api/v1/patients/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *httpBackend) FetchPatientHistory(ctx context.Context, id string) (*patient.History, error) {
	var h patient.History
	if err := b.do(ctx, "fetch patient history", http.MethodGet, "/api/v1/patients/"+url.PathEscape(id)+"/history", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (b *httpBackend) FetchQueueSnapshot(ctx context.Context, date time.Time) ([]queue.Appointment, error) {
	path := "/api/v1/queue?date=" + url.QueryEscape(date.Format("2006-01-02"))
	var appts []queue.Appointment
	if err := b.do(ctx, "fetch queue", http.MethodGet, path, nil, &appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func (b *httpBackend) CreatePrescription(ctx context.Context, consultationID string, rx prescription.Prescription) (*prescription.Prescription, error) {
	rx.ConsultationID = consultationID
	var out prescription.Prescription
	if err := b.do(ctx, "create prescription", http.MethodPost, "/api/v1/prescriptions", rx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *httpBackend) UpdatePrescription(ctx context.Context, id string, rx prescription.Prescription) (*prescription.Prescription, error) {
	var out prescription.Prescription
	if err := b.do(ctx, "update prescription", http.MethodPut, "/api/v1/prescriptions/"+url.PathEscape(id), rx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *httpBackend) FetchPrescriptions(ctx context.Context, filter prescription.Filter) ([]*prescription.Prescription, error) {
	q := url.Values{}
	if filter.ConsultationID != "" {
		q.Set("consultation_id", filter.ConsultationID)
	}
	if filter.PatientID != "" {
		q.Set("patient_id", filter.PatientID)
	}
	if filter.DoctorID != "" {
		q.Set("doctor_id", filter.DoctorID)
	}
	path := "/api/v1/prescriptions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*prescription.Prescription
	if err := b.do(ctx, "fetch prescriptions", http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}
