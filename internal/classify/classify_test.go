package classify

import "testing"

func TestSelectPlainIsRead(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT 1"))
	if r.Op != OpSelect || !r.Mask.Has(TypeRead) || r.Mask.Has(TypeWrite) {
		t.Fatalf("got %+v", r)
	}
}

func TestSelectForUpdateIsReadAndWrite(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT * FROM t WHERE id=1 FOR UPDATE"))
	if !r.Mask.Has(TypeRead) || !r.Mask.Has(TypeWrite) {
		t.Fatalf("got %+v", r)
	}
}

func TestSelectLastInsertIDIsMasterRead(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT LAST_INSERT_ID()"))
	if !r.Mask.Has(TypeMasterRead) {
		t.Fatalf("got %+v", r)
	}
}

func TestSysVarReadIsNotUserVarRead(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT @@version"))
	if !r.Mask.Has(TypeSysVarRead) || r.Mask.Has(TypeUserVarRead) {
		t.Fatalf("got %+v", r)
	}
}

func TestUserVarRead(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT @total"))
	if !r.Mask.Has(TypeUserVarRead) || r.Mask.Has(TypeSysVarRead) {
		t.Fatalf("got %+v", r)
	}
}

func TestSetAutocommitOn(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET autocommit=1"))
	if !r.Mask.Has(TypeSessionWrite) || !r.Mask.Has(TypeEnableAutocommit) || !r.Mask.Has(TypeCommit) {
		t.Fatalf("got %+v", r)
	}
}

func TestSetAutocommitOff(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET autocommit=0"))
	if !r.Mask.Has(TypeSessionWrite) || !r.Mask.Has(TypeBeginTrx) || !r.Mask.Has(TypeDisableAutocommit) {
		t.Fatalf("got %+v", r)
	}
}

func TestSetGlobalIsNotSessionWrite(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET GLOBAL max_connections=200"))
	if !r.Mask.Has(TypeGSysVarWrite) || r.Mask.Has(TypeSessionWrite) {
		t.Fatalf("got %+v", r)
	}
}

func TestSetTransactionUnscopedAddsNextTrx(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET TRANSACTION READ ONLY"))
	if r.Op != OpSetTransaction || !r.Mask.Has(TypeNextTrx) || !r.Mask.Has(TypeReadOnly) {
		t.Fatalf("got %+v", r)
	}
}

func TestSetTransactionGlobalDropsReadOnly(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET GLOBAL TRANSACTION READ ONLY"))
	if !r.Mask.Has(TypeGSysVarWrite) || r.Mask.Has(TypeReadOnly) {
		t.Fatalf("got %+v", r)
	}
}

func TestBeginCommitRollback(t *testing.T) {
	if r := NewClassifier(0).Classify([]byte("BEGIN")); r.Op != OpBegin || !r.Mask.Has(TypeBeginTrx) {
		t.Fatalf("BEGIN got %+v", r)
	}
	if r := NewClassifier(0).Classify([]byte("START TRANSACTION")); r.Op != OpBegin {
		t.Fatalf("START TRANSACTION got %+v", r)
	}
	if r := NewClassifier(0).Classify([]byte("COMMIT")); r.Op != OpCommit || !r.Mask.Has(TypeCommit) {
		t.Fatalf("COMMIT got %+v", r)
	}
	if r := NewClassifier(0).Classify([]byte("ROLLBACK")); r.Op != OpRollback || !r.Mask.Has(TypeRollback) {
		t.Fatalf("ROLLBACK got %+v", r)
	}
}

func TestUseIsChangeDBSessionWrite(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("USE mydb"))
	if r.Op != OpChangeDB || !r.Mask.Has(TypeSessionWrite) {
		t.Fatalf("got %+v", r)
	}
}

func TestCreateTemporaryTable(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("CREATE TEMPORARY TABLE t (id INT)"))
	if !r.Mask.Has(TypeWrite) || !r.Mask.Has(TypeCreateTmpTable) {
		t.Fatalf("got %+v", r)
	}
}

func TestKillConnection(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("KILL 42"))
	if r.Op != OpKill || r.Kill == nil || r.Kill.Kind != KillConnection || r.Kill.Target != "42" {
		t.Fatalf("got %+v", r)
	}
}

func TestKillQueryIDUserIsRejected(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("KILL QUERY ID USER 'bob'"))
	if r.Kill == nil || r.RejectReason == "" {
		t.Fatalf("expected KILL QUERY ID USER to be rejected, got %+v", r)
	}
}

func TestMultiStatementDetection(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT 1; SELECT 2"))
	if !r.Multi || r.Op != OpSelect {
		t.Fatalf("got %+v", r)
	}
}

func TestMultiStatementIgnoresSemicolonInString(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SELECT 'a;b'"))
	if r.Multi {
		t.Fatalf("got %+v, want Multi=false", r)
	}
}

func TestClassifierCacheReturnsSameResult(t *testing.T) {
	c := NewClassifier(8)
	a := c.Classify([]byte("SELECT 1"))
	b := c.Classify([]byte("SELECT 1"))
	if a.Op != b.Op || a.Mask != b.Mask {
		t.Fatalf("cached classification differs: %+v vs %+v", a, b)
	}
}

func TestSetGlobalMixedWithSessionAssignmentIsBoth(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET GLOBAL max_connections=100, sql_mode='ANSI'"))
	if !r.Mask.Has(TypeGSysVarWrite) || !r.Mask.Has(TypeSessionWrite) {
		t.Fatalf("got %+v, want GSYSVAR_WRITE and SESSION_WRITE", r)
	}
}

func TestSetGlobalMixedWithUserVariableIsBoth(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET GLOBAL max_connections=100, @u=1"))
	if !r.Mask.Has(TypeGSysVarWrite) || !r.Mask.Has(TypeSessionWrite) || !r.Mask.Has(TypeUserVarWrite) {
		t.Fatalf("got %+v, want GSYSVAR_WRITE, SESSION_WRITE and USERVAR_WRITE", r)
	}
}

func TestSetGlobalIgnoresCommaInsideString(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("SET GLOBAL init_connect='SET a=1, b=2'"))
	if !r.Mask.Has(TypeGSysVarWrite) || r.Mask.Has(TypeSessionWrite) {
		t.Fatalf("got %+v, want GSYSVAR_WRITE only", r)
	}
}

func TestCreateTemporaryTableCapturesName(t *testing.T) {
	r := NewClassifier(0).Classify([]byte("CREATE TEMPORARY TABLE tmp_x (id INT)"))
	if !r.Mask.Has(TypeCreateTmpTable) || r.Table != "tmp_x" {
		t.Fatalf("got %+v", r)
	}
}

func TestTempTablesFlagLaterReads(t *testing.T) {
	c := NewClassifier(0)
	var tt TempTables

	r := tt.Apply("CREATE TEMPORARY TABLE tmp_x (id INT)", c.Classify([]byte("CREATE TEMPORARY TABLE tmp_x (id INT)")))
	if r.Mask.Has(TypeReadTmpTable) {
		t.Fatalf("the create itself should not be a temp-table read: %+v", r)
	}

	r = tt.Apply("SELECT * FROM tmp_x", c.Classify([]byte("SELECT * FROM tmp_x")))
	if !r.Mask.Has(TypeReadTmpTable) {
		t.Fatalf("got %+v, want READ_TMP_TABLE", r)
	}

	r = tt.Apply("SELECT * FROM other", c.Classify([]byte("SELECT * FROM other")))
	if r.Mask.Has(TypeReadTmpTable) {
		t.Fatalf("unrelated select flagged: %+v", r)
	}

	tt.Apply("DROP TABLE tmp_x", c.Classify([]byte("DROP TABLE tmp_x")))
	r = tt.Apply("SELECT * FROM tmp_x", c.Classify([]byte("SELECT * FROM tmp_x")))
	if r.Mask.Has(TypeReadTmpTable) {
		t.Fatalf("dropped table still tracked: %+v", r)
	}
}
