// Package interview 汇总面试者的答题记录：统计、评级、报告文本与薄弱项推荐。
// 这里只做纯计算，数据由调用方从 storage 读取后传入。
package interview

import (
	"math"
	"sort"
	"time"

	"github.com/wwwzy/IntervAgent/internal/storage"
)

const unknownType = "未知"

// DifficultyWeights 为计算类型加权总分时各难度的系数，未列出的难度按 0.5 计。
var DifficultyWeights = map[string]float64{
	"简单": 0.2,
	"中等": 0.5,
	"困难": 0.3,
}

// TypeScore 为某一题目类型的得分情况。
type TypeScore struct {
	Type    string  `json:"type"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	// Weighted 为按难度系数加权后的总分。
	Weighted float64 `json:"weighted"`
}

// Analysis 为一名面试者的答题分析结果。
type Analysis struct {
	IntervieweeID uint64      `json:"interviewee_id"`
	Name          string      `json:"name"`
	Email         string      `json:"email,omitempty"`
	RegisteredAt  time.Time   `json:"registered_at"`
	Questions     int         `json:"questions"`
	Total         int         `json:"total"`
	Average       float64     `json:"average"`
	Max           int         `json:"max"`
	Min           int         `json:"min"`
	ByType        []TypeScore `json:"by_type"`
	// Rating 为综合评级（优秀/良好/及格/待提高）；无答题记录时为空。
	Rating string `json:"rating,omitempty"`
}

// Rating 根据均分给出综合评级。
func Rating(avg float64) string {
	switch {
	case avg >= 8:
		return "优秀"
	case avg >= 6:
		return "良好"
	case avg >= 4:
		return "及格"
	default:
		return "待提高"
	}
}

// Analyze 统计 records（应属于 iv）并给出评级。
func Analyze(iv storage.Interviewee, records []storage.InterviewRecord) Analysis {
	a := Analysis{
		IntervieweeID: iv.ID,
		Name:          iv.Name,
		Email:         iv.Email,
		RegisteredAt:  iv.CreatedAt,
		Questions:     len(records),
	}
	if len(records) == 0 {
		return a
	}

	a.Max, a.Min = records[0].Score, records[0].Score
	for _, r := range records {
		a.Total += r.Score
		if r.Score > a.Max {
			a.Max = r.Score
		}
		if r.Score < a.Min {
			a.Min = r.Score
		}
	}
	a.Average = round2(float64(a.Total) / float64(len(records)))
	a.ByType = TypeScores(records)
	a.Rating = Rating(a.Average)
	return a
}

// TypeScores 按题目类型分组计算均分和难度加权总分，结果按类型名排序。
func TypeScores(records []storage.InterviewRecord) []TypeScore {
	type acc struct {
		sum      int
		count    int
		weighted float64
	}
	groups := make(map[string]*acc)
	for _, r := range records {
		t := r.Snapshot.Type
		if t == "" {
			t = unknownType
		}
		g, ok := groups[t]
		if !ok {
			g = &acc{}
			groups[t] = g
		}
		g.sum += r.Score
		g.count++
		w, ok := DifficultyWeights[r.Snapshot.Difficulty]
		if !ok {
			w = 0.5
		}
		g.weighted += float64(r.Score) * w
	}

	out := make([]TypeScore, 0, len(groups))
	for t, g := range groups {
		out = append(out, TypeScore{
			Type:     t,
			Count:    g.count,
			Average:  round2(float64(g.sum) / float64(g.count)),
			Weighted: round2(g.weighted),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// WeakestType 返回均分最低的题目类型；均分相同时取类型名较小者。无记录时 ok=false。
func WeakestType(records []storage.InterviewRecord) (t string, avg float64, ok bool) {
	scores := TypeScores(records)
	if len(scores) == 0 {
		return "", 0, false
	}
	weakest := scores[0]
	for _, s := range scores[1:] {
		if s.Average < weakest.Average {
			weakest = s
		}
	}
	return weakest.Type, weakest.Average, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
