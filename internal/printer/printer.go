package printer

import "github.com/slok/wxpipe/internal/model"

// Printer knows how to print run history information in different formats.
type Printer interface {
	PrintRunList(runs []model.Run) error
	PrintRunStatus(run model.Run, attempts []model.Attempt) error
	PrintMessage(msg string) error
}

var (
	_ Printer = &TablePrinter{}
	_ Printer = &JSONPrinter{}
)
