package repository

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hitoshi/certman/internal/model"
)

// emptyRegistryXML は新規作成時のXMLドキュメント。
const emptyRegistryXML = "<domains></domains>"

// xmlDomains はXMLファイルのルート要素。
type xmlDomains struct {
	XMLName xml.Name    `xml:"domains"`
	Domains []xmlDomain `xml:"domain"`
}

// xmlDomain はXMLファイル内の1ドメイン分の要素。
type xmlDomain struct {
	Name          string              `xml:"name"`
	StartDate     string              `xml:"startDate"`
	EndDate       string              `xml:"endDate"`
	RemainingDays model.RemainingDays `xml:"remainingDays"`
}

// XMLFileRegistry は単一のXMLファイルをレジストリの永続化媒体として使用する。
// 書き込みは同一ディレクトリの一時ファイルに行ってからrenameで置き換える。
type XMLFileRegistry struct {
	path string
}

// NewXMLFileRegistry はXMLFileRegistryを生成する。
func NewXMLFileRegistry(path string) *XMLFileRegistry {
	return &XMLFileRegistry{path: path}
}

// Path はXMLファイルのパスを返す。
func (r *XMLFileRegistry) Path() string {
	return r.path
}

// Init はXMLファイルが存在しない場合に空のドキュメントを作成する。
func (r *XMLFileRegistry) Init(ctx context.Context) error {
	if _, err := os.Stat(r.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("XMLファイルの確認に失敗しました: %w", err)
	}

	if err := r.writeFile([]byte(emptyRegistryXML)); err != nil {
		return fmt.Errorf("XMLファイルの作成に失敗しました: %w", err)
	}
	return nil
}

// ReadAll はXMLファイルから全レコードを読み込む。
func (r *XMLFileRegistry) ReadAll(ctx context.Context) ([]model.DomainRecord, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.DomainRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("XMLファイルの読み込みに失敗しました: %w", err)
	}

	var doc xmlDomains
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("XMLデータのパースに失敗しました: %w", err)
	}

	records := make([]model.DomainRecord, len(doc.Domains))
	for i, d := range doc.Domains {
		records[i] = model.DomainRecord{
			Name:          d.Name,
			StartDate:     d.StartDate,
			EndDate:       d.EndDate,
			RemainingDays: d.RemainingDays,
		}
	}
	return records, nil
}

// WriteAll は全レコードをXMLファイルに書き込む。
func (r *XMLFileRegistry) WriteAll(ctx context.Context, records []model.DomainRecord) error {
	doc := xmlDomains{Domains: make([]xmlDomain, len(records))}
	for i, rec := range records {
		doc.Domains[i] = xmlDomain{
			Name:          rec.Name,
			StartDate:     rec.StartDate,
			EndDate:       rec.EndDate,
			RemainingDays: rec.RemainingDays,
		}
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("XMLデータの生成に失敗しました: %w", err)
	}

	data := append([]byte(xml.Header), body...)
	if err := r.writeFile(data); err != nil {
		return fmt.Errorf("XMLファイルの更新に失敗しました: %w", err)
	}
	return nil
}

// writeFile は一時ファイルへの書き込みとrenameでファイル全体を置き換える。
func (r *XMLFileRegistry) writeFile(data []byte) error {
	dir := filepath.Dir(r.path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// compile-time interface check
var _ RegistryMedium = (*XMLFileRegistry)(nil)
