// Package controller プレビューとキー操作でセッションを駆動するループ
//
// セッションを操作するのは Run を実行しているゴルーチンだけで、
// HTTP など他のゴルーチンからの操作は Do でコマンドとして渡し、フレームの合間に実行する。
package controller
