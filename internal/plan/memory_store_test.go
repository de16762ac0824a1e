package plan

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

func newStoredPlan(t *testing.T, store Store, id string, status Status) *Plan {
	t.Helper()
	p := &Plan{
		ID:    id,
		Goal:  "goal for " + id,
		Steps: []Step{{Action: "compile"}},
	}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("创建计划失败: %v", err)
	}
	if status != StatusPending {
		claimed, err := store.Claim(context.Background(), id)
		if err != nil {
			t.Fatalf("抢占计划失败: %v", err)
		}
		if status != StatusRunning {
			claimed.Status = status
			if err := store.Finish(context.Background(), claimed); err != nil {
				t.Fatalf("回写计划失败: %v", err)
			}
		}
	}
	return p
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	newStoredPlan(t, store, "dup", StatusPending)

	err := store.Create(context.Background(), &Plan{ID: "dup", Goal: "again", Steps: []Step{{Action: "x"}}})
	if !stdErrors.Is(err, ErrPlanConflict) {
		t.Fatalf("重复 ID 应返回冲突: %v", err)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "absent"); !stdErrors.Is(err, ErrPlanNotFound) {
		t.Fatalf("应返回未找到: %v", err)
	}
}

func TestMemoryStoreClaimTransitions(t *testing.T) {
	store := NewMemoryStore()
	newStoredPlan(t, store, "p1", StatusPending)

	claimed, err := store.Claim(context.Background(), "p1")
	if err != nil {
		t.Fatalf("抢占失败: %v", err)
	}
	if claimed.Status != StatusRunning {
		t.Fatalf("抢占后应为 running: %s", claimed.Status)
	}

	if _, err := store.Claim(context.Background(), "p1"); !stdErrors.Is(err, ErrPlanConflict) {
		t.Fatalf("重复抢占应冲突: %v", err)
	}

	claimed.Status = StatusCompleted
	if err := store.Finish(context.Background(), claimed); err != nil {
		t.Fatalf("回写失败: %v", err)
	}
	if _, err := store.Claim(context.Background(), "p1"); !stdErrors.Is(err, ErrPlanTerminal) {
		t.Fatalf("终态计划不应可抢占: %v", err)
	}
}

func TestMemoryStoreFinishRequiresTerminal(t *testing.T) {
	store := NewMemoryStore()
	p := newStoredPlan(t, store, "p1", StatusPending)
	p.Status = StatusRunning
	if err := store.Finish(context.Background(), p); err == nil {
		t.Fatal("非终态回写应报错")
	}
}

func TestMemoryStoreListFiltersAndPaginates(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		newStoredPlan(t, store, fmt.Sprintf("done-%d", i), StatusCompleted)
	}
	newStoredPlan(t, store, "waiting", StatusPending)

	completed, err := store.List(context.Background(), ListOptions{Statuses: []Status{StatusCompleted}})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(completed) != 5 {
		t.Fatalf("应返回五条完成计划: %d", len(completed))
	}

	page, err := store.List(context.Background(), ListOptions{Statuses: []Status{StatusCompleted}, Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("分页应截断到剩余数量: %d", len(page))
	}

	byQuery, err := store.List(context.Background(), ListOptions{Query: "waiting"})
	if err != nil || len(byQuery) != 1 || byQuery[0].ID != "waiting" {
		t.Fatalf("应按目标模糊匹配: %v %v", byQuery, err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	newStoredPlan(t, store, "a", StatusCompleted)
	newStoredPlan(t, store, "b", StatusFailed)
	newStoredPlan(t, store, "c", StatusPending)

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Pending != 1 {
		t.Fatalf("统计结果不符: %+v", stats)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	newStoredPlan(t, store, "p1", StatusPending)

	first, err := store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	first.Goal = "mutated"

	second, err := store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if second.Goal == "mutated" {
		t.Fatal("存储应返回副本, 外部修改不应影响内部状态")
	}
}
