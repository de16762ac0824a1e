package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "Legend-Guardian/internal/errors"
	"Legend-Guardian/internal/platform"
	"Legend-Guardian/pkg/logger"
)

const (
	classClassifier   = "meta::pure::metamodel::type::Class"
	mappingClassifier = "meta::pure::mapping::Mapping"
)

// createWorkspace 创建工作区。已存在视为成功。
func (a *Agent) createWorkspace(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	if err := a.policy.CheckWorkspaceID(workspaceID); err != nil {
		return nil, err
	}
	if err := a.sdlc.CreateWorkspace(ctx, projectID, workspaceID); err != nil {
		return nil, err
	}
	return map[string]any{
		"project_id":   projectID,
		"workspace_id": workspaceID,
		"status":       "ready",
	}, nil
}

// createModel 从列定义、CSV 或描述推导 PURE Class 并写入工作区。
// 反向 ETL 流程传入 columns, 其余路径退化到 CSV 表头或字段列表。
func (a *Agent) createModel(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	name := argString(args, "name")
	if name == "" {
		name = modelNameFromText(argString(args, "description"))
	}
	if err := a.policy.CheckModelName(name); err != nil {
		return nil, err
	}
	csvData := argString(args, "csv_data")
	if err := a.policy.CheckPII(csvData); err != nil {
		return nil, err
	}
	// 没有 CSV 样本时,用解析器抽取的字段名充当表头。
	if csvData == "" {
		if fields := argStrings(args, "fields"); len(fields) > 0 {
			csvData = strings.Join(fields, ",")
		}
	}

	var pure string
	var properties []map[string]any
	if columns := argColumns(args); len(columns) > 0 {
		pure = pureFromColumns(name, columns, argStrings(args, "constraints"))
		properties = columnProperties(columns)
	} else {
		pure = pureFromCSV(name, csvData)
		properties = csvProperties(csvData)
	}
	entity := platform.Entity{
		Path:           "model::" + name,
		ClassifierPath: classClassifier,
		Content: map[string]any{
			"name":       name,
			"package":    "model",
			"properties": properties,
		},
	}
	if table := argString(args, "source_table"); table != "" {
		entity.Content["sourceTable"] = table
	}
	if err := a.sdlc.UpsertEntities(ctx, projectID, workspaceID, []platform.Entity{entity}, false); err != nil {
		return nil, err
	}
	return map[string]any{"model": entity.Path, "pure": pure}, nil
}

// createMapping 写入映射骨架。
func (a *Agent) createMapping(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	name := argString(args, "name")
	if name == "" {
		name = "FlatDataMapping"
	}
	model := argString(args, "model")
	entity := platform.Entity{
		Path:           "mapping::" + name,
		ClassifierPath: mappingClassifier,
		Content: map[string]any{
			"name":    name,
			"package": "mapping",
			"model":   model,
		},
	}
	if err := a.sdlc.UpsertEntities(ctx, projectID, workspaceID, []platform.Entity{entity}, false); err != nil {
		return nil, err
	}
	return map[string]any{"mapping": entity.Path, "pure": pureMapping(name, model)}, nil
}

// applyChanges 把变更合并进既有模型实体。
func (a *Agent) applyChanges(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	modelPath := argString(args, "model_path")
	if modelPath == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 model_path 参数")
	}
	changes, _ := args["changes"].(map[string]any)
	if len(changes) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "changes 不能为空")
	}

	entities, err := a.sdlc.GetEntities(ctx, projectID, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, entity := range entities {
		if entity.Path != modelPath {
			continue
		}
		if entity.Content == nil {
			entity.Content = map[string]any{}
		}
		for key, value := range changes {
			entity.Content[key] = value
		}
		if err := a.sdlc.UpsertEntities(ctx, projectID, workspaceID, []platform.Entity{entity}, false); err != nil {
			return nil, err
		}
		return map[string]any{"model": modelPath, "applied": len(changes)}, nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound,
		fmt.Sprintf("模型 %s 不在工作区 %s 中", modelPath, workspaceID))
}

// addConstraints 给模型追加约束定义。
func (a *Agent) addConstraints(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	constraints := argStrings(args, "constraints")
	if len(constraints) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "constraints 不能为空")
	}
	modelPath := argString(args, "model_path")

	entities, err := a.sdlc.GetEntities(ctx, projectID, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, entity := range entities {
		if !strings.Contains(entity.ClassifierPath, "Class") {
			continue
		}
		if modelPath != "" && entity.Path != modelPath {
			continue
		}
		if entity.Content == nil {
			entity.Content = map[string]any{}
		}
		entity.Content["constraints"] = constraints
		if err := a.sdlc.UpsertEntities(ctx, projectID, workspaceID, []platform.Entity{entity}, false); err != nil {
			return nil, err
		}
		return map[string]any{"model": entity.Path, "constraints": len(constraints)}, nil
	}
	return nil, xerrors.New(xerrors.CodeNotFound, "工作区内没有可加约束的模型")
}

// compile 把工作区实体拼成 PURE 文本并提交编译。
func (a *Agent) compile(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	entities, err := a.sdlc.GetEntities(ctx, projectID, workspaceID)
	if err != nil {
		return nil, err
	}
	pure := entitiesToPure(toViews(entities))
	result, err := a.engine.Compile(ctx, projectID, workspaceID, pure)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		messages := make([]string, len(result.Errors))
		for i, issue := range result.Errors {
			messages[i] = issue.Message
		}
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			"编译失败: "+strings.Join(messages, "; "),
			xerrors.WithMetadata("error_count", fmt.Sprintf("%d", len(result.Errors))))
	}
	return map[string]any{
		"status":   result.Status,
		"entities": len(entities),
		"warnings": len(result.Warnings),
	}, nil
}

// runTests 以编译作为回归检查, 任何编译错误都视为测试失败。
func (a *Agent) runTests(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := a.compile(ctx, args)
	if err != nil {
		return nil, err
	}
	out["status"] = "passed"
	return out, nil
}

// generateService 基于查询生成服务定义。
func (a *Agent) generateService(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	servicePath := argString(args, "path")
	if servicePath == "" {
		servicePath = argString(args, "name")
	}
	if servicePath == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少服务路径参数")
	}
	if err := a.policy.CheckServicePath(servicePath); err != nil {
		return nil, err
	}
	query := argString(args, "query")
	if query == "" {
		query = "all()"
	}
	out, err := a.engine.GenerateService(ctx, projectID, workspaceID, servicePath, query)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	out["service_path"] = servicePath
	return out, nil
}

// createService 是 generate_service 的别名动作, 取 name 作为路径。
func (a *Agent) createService(ctx context.Context, args map[string]any) (map[string]any, error) {
	if argString(args, "path") == "" {
		args["path"] = argString(args, "name")
	}
	return a.generateService(ctx, args)
}

// runService 执行已发布的服务。
func (a *Agent) runService(ctx context.Context, args map[string]any) (map[string]any, error) {
	servicePath := argString(args, "path")
	if servicePath == "" {
		servicePath = argString(args, "service")
	}
	if servicePath == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少服务路径参数")
	}
	params := map[string]string{}
	if raw, ok := args["params"].(map[string]any); ok {
		for key, value := range raw {
			params[key] = fmt.Sprintf("%v", value)
		}
	}
	return a.engine.RunService(ctx, servicePath, params)
}

// openReview 发起评审。
func (a *Agent) openReview(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	title := argString(args, "title")
	if title == "" {
		title = "Review from Legend Guardian"
	}
	description := argString(args, "description")
	if err := a.policy.CheckReviewTitle(title); err != nil {
		return nil, err
	}
	if err := a.policy.CheckPII(title + " " + description); err != nil {
		return nil, err
	}
	review, err := a.sdlc.CreateReview(ctx, projectID, workspaceID, title, description)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"review_id": review.ID,
		"state":     review.State,
		"web_url":   review.WebURL,
	}, nil
}

// publish 打版本发布。发布需要显式批准标记。
func (a *Agent) publish(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := a.scope(args)
	if a.policy.RequiresApproval("publish") && !argBool(args, "approved") {
		return nil, xerrors.New(CodeApprovalRequired, "发布动作需要人工批准")
	}
	version := argString(args, "version")
	if version == "" {
		version = time.Now().UTC().Format("v2006.01.02-150405")
	}
	notes := argString(args, "notes")
	if notes == "" {
		notes = "published by legend guardian"
	}
	if err := a.sdlc.CreateVersion(ctx, projectID, version, notes); err != nil {
		return nil, err
	}
	return map[string]any{"version": version, "project_id": projectID}, nil
}

// searchDepot 在仓库中检索已发布项目。
func (a *Agent) searchDepot(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 query 参数")
	}
	projects, err := a.depot.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	coordinates := make([]string, len(projects))
	for i, project := range projects {
		coordinates[i] = project.GroupID + ":" + project.ArtifactID
	}
	return map[string]any{"count": len(projects), "coordinates": coordinates}, nil
}

// importModel 把仓库中某版本的实体导入当前工作区。
func (a *Agent) importModel(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, workspaceID := a.scope(args)
	coordinate := argString(args, "coordinate")
	if coordinate == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 coordinate 参数",
			xerrors.WithHint("坐标形如 group:artifact, 可先执行 search_depot"))
	}
	version := argString(args, "version")
	if version == "" {
		version = "latest"
	}
	entities, err := a.depot.GetEntities(ctx, coordinate, version)
	if err != nil {
		return nil, err
	}
	if err := a.policy.CheckEntityCount(len(entities)); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return map[string]any{"imported": 0}, nil
	}
	if err := a.sdlc.UpsertEntities(ctx, projectID, workspaceID, entities, false); err != nil {
		return nil, err
	}
	return map[string]any{"imported": len(entities), "version": version}, nil
}

// transformSchema 把工作区模型转换为目标 schema 格式。
func (a *Agent) transformSchema(ctx context.Context, args map[string]any) (map[string]any, error) {
	format := argString(args, "format")
	if format == "" {
		format = "jsonSchema"
	}
	if err := a.policy.CheckSchemaType(format); err != nil {
		return nil, err
	}
	classPath := argString(args, "class_path")
	out, err := a.engine.TransformSchema(ctx, format, classPath)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	out["format"] = format
	return out, nil
}

// recordManifest 生成一份可追溯的执行清单摘要。
func (a *Agent) recordManifest(ctx context.Context, args map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "清单参数无法序列化")
	}
	digest := sha256.Sum256(payload)
	manifest := map[string]any{
		"manifest_id": hex.EncodeToString(digest[:8]),
		"checksum":    hex.EncodeToString(digest[:]),
		"recorded_at": time.Now().UTC().Format(time.RFC3339),
	}
	if source := argString(args, "source"); source != "" {
		manifest["source"] = source
	}
	logger.L().Info("执行清单已记录", "manifest_id", manifest["manifest_id"])
	return manifest, nil
}

// rollbackService 把仓库中的历史版本恢复到热修复工作区。
func (a *Agent) rollbackService(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := a.scope(args)
	coordinate := argString(args, "coordinate")
	if coordinate == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 coordinate 参数")
	}
	version := argString(args, "version")
	if version == "" {
		versions, err := a.depot.ListVersions(ctx, coordinate)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, xerrors.New(xerrors.CodeNotFound,
				fmt.Sprintf("坐标 %s 下没有可回退的版本", coordinate))
		}
		version = versions[len(versions)-1]
	}

	hotfix := hotfixWorkspaceID(argString(args, "service"))
	if err := a.sdlc.CreateWorkspace(ctx, projectID, hotfix); err != nil {
		return nil, err
	}
	entities, err := a.depot.GetEntities(ctx, coordinate, version)
	if err != nil {
		return nil, err
	}
	if err := a.policy.CheckEntityCount(len(entities)); err != nil {
		return nil, err
	}
	if err := a.sdlc.UpsertEntities(ctx, projectID, hotfix, entities, true); err != nil {
		return nil, err
	}
	return map[string]any{
		"version":      version,
		"workspace_id": hotfix,
		"restored":     len(entities),
	}, nil
}

// noActionableIntent 是哨兵步骤的处理函数, 不触发任何上游调用。
func (a *Agent) noActionableIntent(ctx context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"status": "noop"}, nil
}

// scope 解析步骤作用域, 参数优先于缺省值。
func (a *Agent) scope(args map[string]any) (string, string) {
	projectID := argString(args, "project_id")
	if projectID == "" {
		projectID = a.defaultProjectID
	}
	workspaceID := argString(args, "workspace_id")
	if workspaceID == "" {
		workspaceID = a.defaultWorkspaceID
	}
	return projectID, workspaceID
}

func argString(args map[string]any, key string) string {
	if value, ok := args[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	value, _ := args[key].(bool)
	return value
}

func argStrings(args map[string]any, key string) []string {
	switch value := args[key].(type) {
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// modelNameFromText 从自由文本里挑出第一个字母序词并转成 PascalCase。
func modelNameFromText(text string) string {
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ".,;:!?\"'")
		if field == "" {
			continue
		}
		lower := strings.ToLower(field)
		switch lower {
		case "a", "an", "the", "create", "new", "model", "for", "with":
			continue
		}
		if !isAlpha(field) {
			continue
		}
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
	return "Model"
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// csvProperties 从 CSV 首行提取属性定义。
func csvProperties(csvData string) []map[string]any {
	lines := strings.Split(strings.TrimSpace(csvData), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil
	}
	var props []map[string]any
	for _, header := range strings.Split(lines[0], ",") {
		name := strings.TrimSpace(header)
		if name == "" {
			continue
		}
		props = append(props, map[string]any{
			"name": name,
			"type": "String",
			"multiplicity": map[string]any{
				"lowerBound": 1,
				"upperBound": 1,
			},
		})
	}
	return props
}

// argColumns 解析 columns 参数, 每项形如 {name, type, nullable}。
// 缺少 name 的列被跳过, type 缺省按 VARCHAR 处理。
func argColumns(args map[string]any) []pureColumn {
	items, ok := args["columns"].([]any)
	if !ok {
		return nil
	}
	var columns []pureColumn
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		sqlType, _ := entry["type"].(string)
		if sqlType == "" {
			sqlType = "VARCHAR"
		}
		nullable, _ := entry["nullable"].(bool)
		columns = append(columns, pureColumn{Name: name, SQLType: sqlType, Nullable: nullable})
	}
	return columns
}

// columnProperties 把列定义转成实体属性, 类型沿用 SQL 到 PURE 的映射。
func columnProperties(columns []pureColumn) []map[string]any {
	props := make([]map[string]any, 0, len(columns))
	for _, col := range columns {
		lower := 1
		if col.Nullable {
			lower = 0
		}
		props = append(props, map[string]any{
			"name": col.Name,
			"type": sqlToPureType(col.SQLType),
			"multiplicity": map[string]any{
				"lowerBound": lower,
				"upperBound": 1,
			},
		})
	}
	return props
}

func toViews(entities []platform.Entity) []entityView {
	views := make([]entityView, len(entities))
	for i, entity := range entities {
		views[i] = entityView{
			Path:           entity.Path,
			ClassifierPath: entity.ClassifierPath,
			Content:        entity.Content,
		}
	}
	return views
}

func hotfixWorkspaceID(service string) string {
	slug := strings.ToLower(service)
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "service"
	}
	return "hotfix-" + slug
}
