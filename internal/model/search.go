package model

import "time"

// SearchRequest 表示一次转写全文检索的参数
// Session 可选：留空时检索全部会话，多个会话使用英文逗号分隔
// Limit/Offset 由调用链路在进入索引前进行裁剪
type SearchRequest struct {
	Query   string `json:"query"`
	Session string `json:"session"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// Clone 生成请求的浅拷贝，便于在不同层级添加额外参数
func (r *SearchRequest) Clone() *SearchRequest {
	if r == nil {
		return nil
	}
	copy := *r
	return &copy
}

// SearchHit is one matching segment with its highlighted fragment.
type SearchHit struct {
	SegmentID    string    `json:"segment_id"`
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	Text         string    `json:"text"`
	Snippet      string    `json:"snippet"`
	Score        float64   `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchResponse 汇总检索结果
// DurationMs 统计检索耗时（毫秒），仅供参考
type SearchResponse struct {
	Total      int                `json:"total"`
	Hits       []*SearchHit       `json:"hits"`
	DurationMs int64              `json:"duration_ms"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
	Query      string             `json:"query"`
	Index      *SearchIndexStatus `json:"index_status,omitempty"`
}

// SearchIndexStatus 表示全文索引的构建状态
type SearchIndexStatus struct {
	Ready           bool      `json:"ready"`
	InProgress      bool      `json:"in_progress"`
	Documents       uint64    `json:"documents"`
	LastCompletedAt time.Time `json:"last_completed_at"`
	LastError       string    `json:"last_error,omitempty"`
}
