// Package alert defines the Alertmanager webhook wire format and the
// normalization Warden applies before building an incident.
package alert

import "time"

// Alert is a single alert within an Alertmanager group payload.
type Alert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// Webhook is the Alertmanager v4 webhook group payload.
type Webhook struct {
	Receiver          string            `json:"receiver"`
	Status            string            `json:"status"`
	Alerts            []Alert           `json:"alerts"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int               `json:"truncatedAlerts"`
}

// Event is a normalized view of the first alert in a webhook group:
// group-level labels and annotations merged with the alert's own, with the
// alert's entries winning on conflict.
type Event struct {
	Status      string
	Labels      map[string]string
	Annotations map[string]string
	StartsAt    time.Time
}

// Normalize flattens the webhook into an Event. The caller must ensure the
// payload carries at least one alert.
func (w *Webhook) Normalize() *Event {
	al := w.Alerts[0]

	labels := make(map[string]string, len(w.CommonLabels)+len(al.Labels))
	for k, v := range w.CommonLabels {
		labels[k] = v
	}
	for k, v := range al.Labels {
		labels[k] = v
	}

	annotations := make(map[string]string, len(w.CommonAnnotations)+len(al.Annotations))
	for k, v := range w.CommonAnnotations {
		annotations[k] = v
	}
	for k, v := range al.Annotations {
		annotations[k] = v
	}

	return &Event{
		Status:      al.Status,
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    al.StartsAt,
	}
}

// Label returns the value for key, or the first non-empty fallback, or def.
func (e *Event) Label(key, def string, fallbacks ...string) string {
	if v := e.Labels[key]; v != "" {
		return v
	}
	for _, fb := range fallbacks {
		if v := e.Labels[fb]; v != "" {
			return v
		}
	}
	return def
}
