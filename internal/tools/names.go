package tools

// Name 为工具标识。工具集合是封闭的：只有下面列出的名字可以注册。
type Name string

const (
	LookupInterviewees       Name = "lookup_interviewees"
	GetQuestionStatistics    Name = "get_question_statistics"
	AnalyzeInterviewees      Name = "analyze_interviewees"
	GenerateReports          Name = "generate_reports"
	RecommendQuestions       Name = "recommend_questions"
	SendReportEmail          Name = "send_report_email"
	FetchMailboxAttachments  Name = "fetch_mailbox_attachments"
	BuildRegistrationIndex   Name = "build_registration_index"
	ReadRegistrationDocument Name = "read_registration_document"
	QueryRegistrationIndex   Name = "query_registration_index"
)

var knownNames = map[Name]struct{}{
	LookupInterviewees:       {},
	GetQuestionStatistics:    {},
	AnalyzeInterviewees:      {},
	GenerateReports:          {},
	RecommendQuestions:       {},
	SendReportEmail:          {},
	FetchMailboxAttachments:  {},
	BuildRegistrationIndex:   {},
	ReadRegistrationDocument: {},
	QueryRegistrationIndex:   {},
}

// Known 判断 n 是否属于工具目录。
func (n Name) Known() bool {
	_, ok := knownNames[n]
	return ok
}

func (n Name) String() string { return string(n) }
