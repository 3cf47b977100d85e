package shared

import "fmt"

// ProjectWIPLockKey builds the redis key serializing task transitions for one
// project. Column, assignee and team ceilings all share a project cohort, so
// one lock per project covers every check.
func ProjectWIPLockKey(projectID int64) string {
	return fmt.Sprintf("wip:project:%d:lock", projectID)
}
