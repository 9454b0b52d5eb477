package models

// HistoryParams 描述查询历史列表的参数（书签分页）
type HistoryParams struct {
	Ticker   string `json:"ticker" form:"ticker"`
	BeforeId int64  `json:"before_id" form:"before_id"` // 书签分页用
	Limit    int    `json:"limit" form:"limit"`         // 每页数量，默认 50，最大 200
}

// HistoryPage 是一页历史记录
type HistoryPage struct {
	Items      []*RunRecord `json:"items"`
	NextCursor int64        `json:"next_cursor,omitempty"`
}
