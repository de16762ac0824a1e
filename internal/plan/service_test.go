package plan

import (
	"context"
	"testing"

	xerrors "Legend-Guardian/internal/errors"
)

func newTestService(t *testing.T) (*Service, *MemoryQueue) {
	t.Helper()
	registry := newTestRegistry(t, nil, nil)
	executor, err := NewExecutor(registry)
	if err != nil {
		t.Fatalf("构造执行器失败: %v", err)
	}
	queue := NewMemoryQueue(8)
	service := NewService(NewMemoryStore(), queue, executor, registry)
	return service, queue
}

func TestServiceSubmitSynchronous(t *testing.T) {
	service, queue := newTestService(t)
	defer queue.Close()

	p := &Plan{
		Goal:  "compile now",
		Steps: []Step{{Action: "compile"}},
	}
	result, err := service.Submit(context.Background(), p, true)
	if err != nil {
		t.Fatalf("同步提交失败: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("同步执行应完成: %s", result.Status)
	}
	if result.ID == "" || result.CorrelationID == "" {
		t.Fatalf("应自动生成 ID 与关联 ID: %+v", result)
	}

	stored, err := service.Get(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if stored.Status != StatusCompleted || len(stored.Results) != 1 {
		t.Fatalf("结果应落盘: %+v", stored)
	}
}

func TestServiceSubmitAsyncEnqueues(t *testing.T) {
	service, queue := newTestService(t)
	defer queue.Close()

	p := &Plan{
		Goal:  "compile later",
		Steps: []Step{{Action: "compile"}},
	}
	result, err := service.Submit(context.Background(), p, false)
	if err != nil {
		t.Fatalf("异步提交失败: %v", err)
	}
	if result.Status != StatusPending {
		t.Fatalf("异步计划应保持 pending: %s", result.Status)
	}

	select {
	case planID := <-queue.ch:
		if planID != result.ID {
			t.Fatalf("队列中的 ID 不符: %s", planID)
		}
	default:
		t.Fatal("计划应已入队")
	}
}

func TestServiceSubmitRejectsInvalidPlan(t *testing.T) {
	service, queue := newTestService(t)
	defer queue.Close()

	if _, err := service.Submit(context.Background(), &Plan{Goal: "  "}, true); err == nil {
		t.Fatal("空目标应被拒绝")
	}

	badPlan := &Plan{Goal: "do something", Steps: []Step{{Action: "teleport"}}}
	_, err := service.Submit(context.Background(), badPlan, true)
	if err == nil || xerrors.CodeOf(err) != xerrors.CodeUnknownAction {
		t.Fatalf("未注册动作应在提交时被拒绝: %v", err)
	}
}

func TestServiceSubmitIdempotentByID(t *testing.T) {
	service, queue := newTestService(t)
	defer queue.Close()

	p := &Plan{
		ID:    "fixed-id",
		Goal:  "compile once",
		Steps: []Step{{Action: "compile"}},
	}
	first, err := service.Submit(context.Background(), p, true)
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}

	again := &Plan{
		ID:    "fixed-id",
		Goal:  "compile once",
		Steps: []Step{{Action: "compile"}},
	}
	second, err := service.Submit(context.Background(), again, true)
	if err != nil {
		t.Fatalf("重复提交应返回既有计划: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("重复提交不应创建新计划: %s vs %s", second.ID, first.ID)
	}
}

func TestServiceActions(t *testing.T) {
	service, queue := newTestService(t)
	defer queue.Close()

	actions := service.Actions()
	if len(actions) != 4 {
		t.Fatalf("应返回全部注册动作: %v", actions)
	}
}
