package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TemplateProvider fills fixed templates from the request inputs after a
// simulated delay. It stands in for a real provider in development.
type TemplateProvider struct {
	delay time.Duration
}

func NewTemplateProvider(delay time.Duration) *TemplateProvider {
	return &TemplateProvider{delay: delay}
}

func (p *TemplateProvider) Name() string {
	return "template"
}

func (p *TemplateProvider) Generate(ctx context.Context, req Request) ([]string, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	subject := req.Title
	if subject == "" {
		subject = req.Inputs["topic"]
	}
	if subject == "" {
		subject = "your brand"
	}

	details := make([]string, 0, len(req.Inputs))
	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		details = append(details, fmt.Sprintf("%s: %s", k, req.Inputs[k]))
	}

	label := strings.ReplaceAll(req.Category, "_", " ")
	if label == "" {
		label = "content"
	}
	out := make([]string, req.Quantity)
	for i := range out {
		out[i] = fmt.Sprintf("%s #%d about %s.", strings.ToUpper(label[:1])+label[1:], i+1, subject)
		if len(details) > 0 {
			out[i] += " " + strings.Join(details, "; ")
		}
	}
	return out, nil
}
