package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wwwzy/IntervAgent/internal/interview"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

var errNoStore = errors.New("storage is not configured")

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func requireStore(env *Env) (*storage.Storage, error) {
	if env == nil || env.Store == nil {
		return nil, errNoStore
	}
	return env.Store, nil
}

// IntervieweeSummary 为查找结果中的一名面试者。
type IntervieweeSummary struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

func summarize(iv storage.Interviewee) IntervieweeSummary {
	return IntervieweeSummary{ID: iv.ID, Name: iv.Name, Email: iv.Email, Phone: iv.Phone, RegisteredAt: iv.CreatedAt}
}

const allTargets = "*"

func lookupInterviewees(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		Names []string `json:"names"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}

	var out BatchPayload
	if len(args.Names) == 0 {
		all, err := store.FindIntervieweesByName(ctx, "", 0)
		if err != nil {
			return nil, err
		}
		out.ok(allTargets, summarizeAll(all), fmt.Sprintf("共 %d 名面试者", len(all)))
		return out, nil
	}

	for _, name := range args.Names {
		found, err := store.FindIntervieweesByName(ctx, name, 0)
		switch {
		case err != nil:
			out.fail(name, "查询失败: %v", err)
		case len(found) == 0:
			out.fail(name, "未找到姓名包含 %q 的面试者", name)
		default:
			out.ok(name, summarizeAll(found), "")
		}
	}
	return out, nil
}

func summarizeAll(ivs []storage.Interviewee) []IntervieweeSummary {
	out := make([]IntervieweeSummary, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, summarize(iv))
	}
	return out
}

func questionStatistics(ctx context.Context, env *Env, _ json.RawMessage) (any, error) {
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	return store.QuestionStatistics(ctx)
}

type idsArgs struct {
	IntervieweeIDs []uint64 `json:"interviewee_ids"`
}

// forEachInterviewee 对每个 ID 加载面试者及其答题记录并调用 fn；
// 单个 ID 失败只记录到对应条目。
func forEachInterviewee(ctx context.Context, store *storage.Storage, ids []uint64,
	fn func(iv storage.Interviewee, records []storage.InterviewRecord, out *BatchPayload, target string)) (BatchPayload, error) {
	var out BatchPayload
	for _, id := range ids {
		target := strconv.FormatUint(id, 10)
		iv, err := store.GetInterviewee(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				out.fail(target, "未找到面试者 ID=%d", id)
				continue
			}
			return out, err
		}
		records, err := store.RecordsByInterviewee(ctx, id)
		if err != nil {
			out.fail(target, "读取答题记录失败: %v", err)
			continue
		}
		fn(*iv, records, &out, target)
	}
	return out, nil
}

func analyzeInterviewees(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args idsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	return forEachInterviewee(ctx, store, args.IntervieweeIDs,
		func(iv storage.Interviewee, records []storage.InterviewRecord, out *BatchPayload, target string) {
			note := ""
			if len(records) == 0 {
				note = "暂无答题记录"
			}
			out.ok(target, interview.Analyze(iv, records), note)
		})
}

// ReportItem 为生成的一份报告。
type ReportItem struct {
	IntervieweeID uint64 `json:"interviewee_id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Report        string `json:"report"`
}

func generateReports(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args idsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	return forEachInterviewee(ctx, store, args.IntervieweeIDs,
		func(iv storage.Interviewee, records []storage.InterviewRecord, out *BatchPayload, target string) {
			if len(records) == 0 {
				out.fail(target, "面试者 %s 暂无答题记录，无法生成报告", iv.Name)
				return
			}
			out.ok(target, ReportItem{
				IntervieweeID: iv.ID,
				Name:          iv.Name,
				Email:         iv.Email,
				Report:        interview.RenderReport(iv, records),
			}, "")
		})
}

const defaultRecommendCount = 3

// Recommendation 为给一名面试者推荐的题目。
type Recommendation struct {
	IntervieweeID uint64 `json:"interviewee_id"`
	Name          string `json:"name"`
	// WeakType 为均分最低的题型；无答题记录时为空，推荐题库前 N 题。
	WeakType  string            `json:"weak_type,omitempty"`
	WeakScore float64           `json:"weak_score,omitempty"`
	Questions []RecommendedItem `json:"questions"`
}

type RecommendedItem struct {
	ID         uint64 `json:"id"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Content    string `json:"content"`
}

func recommendQuestions(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		idsArgs
		NumQuestions int `json:"num_questions"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.NumQuestions == 0 {
		args.NumQuestions = defaultRecommendCount
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	return forEachInterviewee(ctx, store, args.IntervieweeIDs,
		func(iv storage.Interviewee, records []storage.InterviewRecord, out *BatchPayload, target string) {
			rec := Recommendation{IntervieweeID: iv.ID, Name: iv.Name}
			var qs []storage.Question
			var err error
			note := ""
			if t, avg, ok := interview.WeakestType(records); ok {
				rec.WeakType, rec.WeakScore = t, avg
				qs, err = store.QuestionsByType(ctx, t, args.NumQuestions)
				if err == nil && len(qs) == 0 {
					note = fmt.Sprintf("题库中没有 %s 类型的题目", t)
				}
			} else {
				note = "暂无答题记录，推荐题库中的前几道题"
				qs, err = store.FirstQuestions(ctx, args.NumQuestions)
			}
			if err != nil {
				out.fail(target, "查询题库失败: %v", err)
				return
			}
			rec.Questions = make([]RecommendedItem, 0, len(qs))
			for _, q := range qs {
				rec.Questions = append(rec.Questions, RecommendedItem{
					ID:         q.ID,
					Type:       q.Type,
					Difficulty: q.Difficulty,
					Content:    interview.Abbreviate(strings.TrimSpace(q.Content), 80),
				})
			}
			out.ok(target, rec, note)
		})
}
