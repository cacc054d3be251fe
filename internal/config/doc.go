// Package config はアプリケーション設定の読み込みと検証を行う
//
// 優先順位は コマンドラインフラグ > 環境変数 (SHUTTER_*) > 設定ファイル > 既定値。
// 設定ファイルは --config で明示するか、., $HOME/.shutter, /etc/shutter の順に shutter.yaml を探す。
package config
