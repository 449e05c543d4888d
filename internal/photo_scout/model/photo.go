package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord 记录缺少必填字段
var ErrInvalidRecord = errors.New("invalid photo record")

// GeoPoint 地理坐标，落库为 {latitude, longitude}
type GeoPoint struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

type Location struct {
	City     *string  `bson:"city" json:"city"`
	Country  *string  `bson:"country" json:"country"`
	Position GeoPoint `bson:"position" json:"position"`
}

// Exif 各字段都可能缺失，来源只返回其中一部分
type Exif struct {
	Aperture     *string `bson:"aperture" json:"aperture"`
	ExposureTime *string `bson:"exposure_time" json:"exposure_time"`
	FocalLength  *string `bson:"focal_length" json:"focal_length"`
	ISO          *int    `bson:"iso" json:"iso"`
	Make         *string `bson:"make" json:"make"`
	Model        *string `bson:"model" json:"model"`
}

type PhotoURLs struct {
	Raw     string `bson:"raw" json:"raw"`
	Full    string `bson:"full" json:"full"`
	Regular string `bson:"regular" json:"regular"`
	Small   string `bson:"small" json:"small"`
	Thumb   string `bson:"thumb" json:"thumb"`
}

type User struct {
	Name string `bson:"name" json:"name"`
}

// PhotoRecord 归一化后的照片记录
// ID 由 RawID 的内容哈希得到，同一来源记录总是落到同一个文档
type PhotoRecord struct {
	ID       string
	RawID    string
	Provider string
	Likes    int
	Created  time.Time // UTC
	Location Location
	Exif     Exif
	Tags     map[string]struct{}
	URLs     PhotoURLs
	User     User
}

// Validate 校验必填字段
func (p *PhotoRecord) Validate() error {
	missing := ""
	switch {
	case p.ID == "":
		missing = "id"
	case p.RawID == "":
		missing = "raw_id"
	case p.Provider == "":
		missing = "provider"
	case p.Created.IsZero():
		missing = "created"
	case p.URLs.Raw == "" || p.URLs.Full == "" || p.URLs.Regular == "" || p.URLs.Small == "" || p.URLs.Thumb == "":
		missing = "urls"
	case p.User.Name == "":
		missing = "user.name"
	}
	if missing != "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, missing)
	}
	if p.Likes < 0 {
		return fmt.Errorf("%w: negative likes %d", ErrInvalidRecord, p.Likes)
	}
	return nil
}

// Fields 生成落库字段；缺失的可选值写 nil
func (p *PhotoRecord) Fields() map[string]any {
	tags := make(map[string]any, len(p.Tags))
	for t := range p.Tags {
		tags[t] = true
	}
	return map[string]any{
		"raw_id":   p.RawID,
		"provider": p.Provider,
		"likes":    p.Likes,
		"created":  p.Created,
		"location": map[string]any{
			"city":     optional(p.Location.City),
			"country":  optional(p.Location.Country),
			"position": p.Location.Position,
		},
		"exif": map[string]any{
			"aperture":      optional(p.Exif.Aperture),
			"exposure_time": optional(p.Exif.ExposureTime),
			"focal_length":  optional(p.Exif.FocalLength),
			"iso":           optional(p.Exif.ISO),
			"make":          optional(p.Exif.Make),
			"model":         optional(p.Exif.Model),
		},
		"tags": tags,
		"urls": map[string]any{
			"raw":     p.URLs.Raw,
			"full":    p.URLs.Full,
			"regular": p.URLs.Regular,
			"small":   p.URLs.Small,
			"thumb":   p.URLs.Thumb,
		},
		"user": map[string]any{
			"name": p.User.Name,
		},
	}
}

// optional 把空指针转成无类型 nil，避免 map 里出现带类型的 nil
func optional[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
