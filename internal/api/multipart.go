package api

import (
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/nikzz125000/portfolio-website-sub000/internal/container"
	"github.com/nikzz125000/portfolio-website-sub000/internal/layout"
)

// 保存区块的 multipart 字段约定：
// 区块本身的字段平铺（title、aspect_ratio、sort_order、background_image），
// 子图片按 Projects[i].* 的下标形式提交，每项可附带自己的 Projects[i].image 文件。

const backgroundFileField = "background_image"

func projectField(index int, name string) string {
	return fmt.Sprintf("Projects[%d].%s", index, name)
}

// parsedSaveForm 持有解析结果与打开的文件句柄，句柄由调用方统一关闭。
type parsedSaveForm struct {
	request   container.SaveContainerRequest
	openFiles []multipart.File
}

func (p *parsedSaveForm) Close() {
	for _, f := range p.openFiles {
		_ = f.Close()
	}
}

func parseSaveContainerForm(form *multipart.Form) (*parsedSaveForm, error) {
	parsed := &parsedSaveForm{}

	title := strings.TrimSpace(firstValue(form, "title"))
	if n := len([]rune(title)); n < 2 || n > 100 {
		return nil, fmt.Errorf("title must be 2-100 characters")
	}
	parsed.request.Title = title

	if raw := firstValue(form, "container_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid container_id %q", raw)
		}
		parsed.request.ContainerID = uint(id)
	}

	if raw := firstValue(form, "aspect_ratio"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio <= 0 {
			return nil, fmt.Errorf("invalid aspect_ratio %q", raw)
		}
		parsed.request.AspectRatio = ratio
	}

	if raw := firstValue(form, "sort_order"); raw != "" {
		order, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sort_order %q", raw)
		}
		parsed.request.SortOrder = order
	}

	background, err := openFormFile(form, backgroundFileField, parsed)
	if err != nil {
		return nil, err
	}
	parsed.request.Background = background

	for i := 0; ; i++ {
		if !hasProjectEntry(form, i) {
			break
		}
		item, err := parseSubItem(form, i, parsed)
		if err != nil {
			return nil, err
		}
		parsed.request.SubItems = append(parsed.request.SubItems, item)
	}

	return parsed, nil
}

func parseSubItem(form *multipart.Form, index int, parsed *parsedSaveForm) (container.SubItemInput, error) {
	var item container.SubItemInput

	switch kind := strings.TrimSpace(firstValue(form, projectField(index, "kind"))); kind {
	case "new", "":
		// 省略 kind 等价于新建，但新建条目不允许携带 id。
		item.Kind = container.KindNew
	case "existing":
		item.Kind = container.KindExisting
	default:
		return item, fmt.Errorf("project %d: invalid kind %q", index, kind)
	}

	if raw := firstValue(form, projectField(index, "id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return item, fmt.Errorf("project %d: invalid id %q", index, raw)
		}
		item.ID = uint(id)
	}
	if item.Kind == container.KindExisting && item.ID == 0 {
		return item, fmt.Errorf("project %d: existing item requires an id", index)
	}
	if item.Kind == container.KindNew && item.ID != 0 {
		return item, fmt.Errorf("project %d: new item must not carry an id", index)
	}

	var err error
	if item.XPercent, err = parsePercent(form, index, "x_percent"); err != nil {
		return item, err
	}
	if item.YPercent, err = parsePercent(form, index, "y_percent"); err != nil {
		return item, err
	}
	if item.HeightPercent, err = parsePercent(form, index, "height_percent"); err != nil {
		return item, err
	}

	item.Animation = layout.DefaultAnimation()
	if raw := firstValue(form, projectField(index, "animation_name")); raw != "" {
		item.Animation.Name = raw
	}
	if raw := firstValue(form, projectField(index, "animation_speed")); raw != "" {
		item.Animation.Speed = raw
	}
	if raw := firstValue(form, projectField(index, "animation_trigger")); raw != "" {
		item.Animation.Trigger = raw
	}
	if err := item.Animation.Validate(); err != nil {
		return item, fmt.Errorf("project %d: %w", index, err)
	}

	if raw := firstValue(form, projectField(index, "is_exterior")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return item, fmt.Errorf("project %d: invalid is_exterior %q", index, raw)
		}
		item.IsExterior = value
	}

	if raw := firstValue(form, projectField(index, "sort_order")); raw != "" {
		order, err := strconv.Atoi(raw)
		if err != nil {
			return item, fmt.Errorf("project %d: invalid sort_order %q", index, raw)
		}
		item.SortOrder = order
	}

	file, err := openFormFile(form, projectField(index, "image"), parsed)
	if err != nil {
		return item, err
	}
	item.File = file

	return item, nil
}

func parsePercent(form *multipart.Form, index int, name string) (float64, error) {
	raw := firstValue(form, projectField(index, name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("project %d: invalid %s %q", index, name, raw)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("project %d: %s must be within [0,100]", index, name)
	}
	return value, nil
}

func hasProjectEntry(form *multipart.Form, index int) bool {
	prefix := fmt.Sprintf("Projects[%d].", index)
	for key := range form.Value {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for key := range form.File {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func firstValue(form *multipart.Form, key string) string {
	if values, ok := form.Value[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

func openFormFile(form *multipart.Form, key string, parsed *parsedSaveForm) (*container.FileUpload, error) {
	headers, ok := form.File[key]
	if !ok || len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file %q: %w", key, err)
	}
	parsed.openFiles = append(parsed.openFiles, file)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &container.FileUpload{
		Reader:      file,
		Size:        header.Size,
		ContentType: contentType,
		FileName:    header.Filename,
	}, nil
}
