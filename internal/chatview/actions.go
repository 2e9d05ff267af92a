package chatview

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/blossom/internal/model"
)

// ActionKind はボタンvalueが対象とするエンティティの種別。
type ActionKind int

const (
	ActionKindCheck ActionKind = iota + 1
	ActionKindReport
	ActionKindMigration
)

func (k ActionKind) String() string {
	switch k {
	case ActionKindCheck:
		return "check"
	case ActionKindReport:
		return "submission"
	case ActionKindMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// レポートとアカウント移行のボタン操作。
const (
	VerbApprove = "approve"
	VerbRemove  = "remove"
	VerbRevert  = "revert"
	VerbCancel  = "cancel"
)

// ErrUnknownAction はボタンvalueを解釈できない場合のエラー。
var ErrUnknownAction = errors.New("unknown action value")

// ActionValue はボタンvalueを解析した結果。
// チェックの場合はCheckAction、それ以外はVerbに操作が入る。
type ActionValue struct {
	Kind        ActionKind
	CheckAction model.CheckAction
	Verb        string
	ID          int64
}

// CheckValue はチェック操作ボタンのvalue（check_<action>_<id>）を返す。
func CheckValue(action model.CheckAction, checkID int64) string {
	return fmt.Sprintf("check_%s_%d", action, checkID)
}

// ReportValue はレポート対応ボタンのvalue（<verb>_submission_<id>）を返す。
func ReportValue(verb string, submissionID int64) string {
	return fmt.Sprintf("%s_submission_%d", verb, submissionID)
}

// MigrationValue はアカウント移行ボタンのvalue（<verb>_migration_<id>）を返す。
func MigrationValue(verb string, migrationID int64) string {
	return fmt.Sprintf("%s_migration_%d", verb, migrationID)
}

var checkActions = map[model.CheckAction]bool{
	model.CheckActionClaim:           true,
	model.CheckActionUnclaim:         true,
	model.CheckActionApprove:         true,
	model.CheckActionCommentPending:  true,
	model.CheckActionCommentResolved: true,
	model.CheckActionCommentUnfixed:  true,
	model.CheckActionWarningPending:  true,
	model.CheckActionWarningResolved: true,
	model.CheckActionWarningUnfixed:  true,
	model.CheckActionRevert:          true,
}

var reportVerbs = map[string]bool{VerbApprove: true, VerbRemove: true, VerbRevert: true}

var migrationVerbs = map[string]bool{VerbApprove: true, VerbRevert: true, VerbCancel: true}

// ParseActionValue はボタンvalueを解析する。未知の形式はErrUnknownActionを返す。
func ParseActionValue(value string) (ActionValue, error) {
	parts := strings.Split(value, "_")
	if len(parts) != 3 {
		return ActionValue{}, fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return ActionValue{}, fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}

	switch {
	case parts[0] == "check":
		action := model.CheckAction(parts[1])
		if !checkActions[action] {
			break
		}
		return ActionValue{Kind: ActionKindCheck, CheckAction: action, ID: id}, nil
	case parts[1] == "submission" && reportVerbs[parts[0]]:
		return ActionValue{Kind: ActionKindReport, Verb: parts[0], ID: id}, nil
	case parts[1] == "migration" && migrationVerbs[parts[0]]:
		return ActionValue{Kind: ActionKindMigration, Verb: parts[0], ID: id}, nil
	}
	return ActionValue{}, fmt.Errorf("%w: %q", ErrUnknownAction, value)
}
