package interview

import (
	"fmt"
	"strings"

	"github.com/wwwzy/IntervAgent/internal/storage"
)

const reportRule = "============================================================"

// RenderReport 生成面向面试者的纯文本报告（答题明细 + 统计分析）。
func RenderReport(iv storage.Interviewee, records []storage.InterviewRecord) string {
	var b strings.Builder
	b.WriteString(reportRule + "\n")
	b.WriteString("面试报告\n")
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "姓名: %s  邮箱: %s  电话: %s\n\n", iv.Name, orUnset(iv.Email), orUnset(iv.Phone))

	b.WriteString("答题明细\n")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for i, r := range records {
		fmt.Fprintf(&b, "\n题目 %d  类型:%s  难度:%s  得分:%d\n",
			i+1, orUnknown(r.Snapshot.Type), orUnknown(r.Snapshot.Difficulty), r.Score)
		fmt.Fprintf(&b, "  内容: %s\n", Abbreviate(r.Snapshot.Content, 60))
		fmt.Fprintf(&b, "  时间: %s\n", r.CreatedAt.Format("2006-01-02 15:04"))
		if r.Snapshot.Remark != "" {
			fmt.Fprintf(&b, "  备注: %s\n", r.Snapshot.Remark)
		}
	}

	a := Analyze(iv, records)
	fmt.Fprintf(&b, "\n%s\n统计分析\n", reportRule)
	fmt.Fprintf(&b, "  题数:%d  总分:%d  均分:%.2f  最高:%d  最低:%d\n", a.Questions, a.Total, a.Average, a.Max, a.Min)
	for _, ts := range a.ByType {
		fmt.Fprintf(&b, "  %s: 均分 %.2f（%d 题，加权 %.2f）\n", ts.Type, ts.Average, ts.Count, ts.Weighted)
	}
	fmt.Fprintf(&b, "  综合评级: %s\n%s\n", a.Rating, reportRule)
	return b.String()
}

// Abbreviate 按字符（rune）截断文本，超出部分以 "..." 表示。
func Abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orUnset(s string) string {
	if s == "" {
		return "未填写"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return unknownType
	}
	return s
}
