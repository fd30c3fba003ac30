package runs

import (
	"gorm.io/datatypes"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey;size:36"`
	Seq            int            `gorm:"column:seq;index"`
	Status         Status         `gorm:"column:status;index"`
	Source         string         `gorm:"column:source"`
	AssetsJSON     datatypes.JSON `gorm:"column:assets_json;type:TEXT"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Episodes       int            `gorm:"column:episodes"`
	Steps          int            `gorm:"column:steps"`
	FinalEpsilon   float64        `gorm:"column:final_epsilon"`
	InitialValue   string         `gorm:"column:initial_value"`
	FinalValue     string         `gorm:"column:final_value"`
	FinalBalance   string         `gorm:"column:final_balance"`
	HoldingsJSON   datatypes.JSON `gorm:"column:holdings_json;type:TEXT"`
	TraceJSON      datatypes.JSON `gorm:"column:trace_json;type:TEXT"`
	ReportDir      string         `gorm:"column:report_dir"`
	ErrorText      string         `gorm:"column:error_text"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "runs" }
