/*
Copyright 2024 Weezy Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/internal/request"
	"github.com/weezyhq/recon/model"
)

// webhookPayload is the body pushed to the configured back-office webhook.
type webhookPayload struct {
	Event     string `json:"event"`
	Processor string `json:"processor,omitempty"`
	RunKey    string `json:"run_key,omitempty"`
	Status    string `json:"status,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Report    string `json:"report,omitempty"`
	Error     string `json:"error,omitempty"`
	Time      string `json:"time"`
}

// NotifyRunCompleted pushes a completed run's summary and report to the
// configured webhook. Delivery is best-effort and asynchronous; a delivery
// failure never fails the run.
func NotifyRunCompleted(run *model.ReconciliationRun, report string) {
	go func() {
		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}
		if conf.Notification.Webhook.Url == "" {
			return
		}

		payload := webhookPayload{
			Event:     "reconciliation.completed",
			Processor: run.Processor,
			RunKey:    run.Key().String(),
			Status:    run.Status,
			Summary:   run.Summary.String(),
			Report:    report,
			Time:      time.Now().Format(time.RFC822),
		}
		if err := deliver(conf, payload); err != nil {
			logrus.Warnf("webhook delivery failed for %s: %v", run.Key().String(), err)
		}
	}()
}

// NotifyError reports a system error through the configured webhook.
// It logs the error locally and runs delivery asynchronously to avoid blocking.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}
		if conf.Notification.Webhook.Url == "" {
			return
		}

		payload := webhookPayload{
			Event: "reconciliation.error",
			Error: systemError.Error(),
			Time:  time.Now().Format(time.RFC822),
		}
		if err := deliver(conf, payload); err != nil {
			logrus.Warnf("webhook delivery failed: %v", err)
		}
	}(systemError)
}

func deliver(conf *config.Configuration, payload webhookPayload) error {
	body, err := request.ToJsonReq(&payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for k, v := range conf.Notification.Webhook.Headers {
		req.Header.Set(k, v)
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	return err
}
