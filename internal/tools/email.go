package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/wwwzy/IntervAgent/internal/storage"
)

const defaultReportSubject = "您的面试报告"

var errNoMailer = errors.New("smtp is not configured")

type emailRecipient struct {
	IntervieweeID uint64 `json:"interviewee_id"`
	ReportContent string `json:"report_content"`
	Subject       string `json:"subject"`
}

// SentEmail 为一封已发送的邮件。
type SentEmail struct {
	IntervieweeID uint64 `json:"interviewee_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Subject       string `json:"subject"`
}

func sendReportEmail(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		Recipients []emailRecipient `json:"recipients"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	if env.Mailer == nil {
		return nil, errNoMailer
	}

	var out BatchPayload
	for _, r := range args.Recipients {
		target := strconv.FormatUint(r.IntervieweeID, 10)
		iv, err := store.GetInterviewee(ctx, r.IntervieweeID)
		if err != nil {
			if storage.IsNotFound(err) {
				out.fail(target, "未找到面试者 ID=%d", r.IntervieweeID)
				continue
			}
			return out, err
		}
		email := strings.TrimSpace(iv.Email)
		if email == "" {
			out.fail(target, "面试者 %s 没有登记邮箱", iv.Name)
			continue
		}
		if strings.TrimSpace(r.ReportContent) == "" {
			out.fail(target, "报告内容为空")
			continue
		}
		subject := strings.TrimSpace(r.Subject)
		if subject == "" {
			subject = defaultReportSubject
		}
		if err := env.Mailer.SendReport(ctx, email, subject, r.ReportContent); err != nil {
			out.fail(target, "发送到 %s 失败: %v", email, err)
			continue
		}
		out.ok(target, SentEmail{IntervieweeID: iv.ID, Name: iv.Name, Email: email, Subject: subject}, "")
	}
	return out, nil
}
