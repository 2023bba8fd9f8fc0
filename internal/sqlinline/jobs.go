package sqlinline

const QInsertJob = `--sql 7c1f4b7e-9a2d-4f6b-8e1a-3d5c9b0a2f41
insert into generation_jobs(
  id,
  user_id,
  status,
  source_version_id,
  prompt,
  provider,
  quantity,
  slots,
  task_id,
  error_message,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::uuid,
  'processing',
  nullif($3::text, '')::uuid,
  $4::text,
  $5::text,
  $6::int,
  $7::jsonb,
  nullif($8::text, ''),
  '',
  now(),
  now()
);
`

const QSelectJobByID = `--sql 1e8a2c5d-4b3f-4a7e-9c0d-6f2b8e1a5c93
select id, user_id, status, coalesce(source_version_id::text, ''), prompt, provider, quantity,
       slots, coalesce(task_id, ''), error_message, created_at, updated_at
from generation_jobs
where id = $1::uuid
limit 1;
`

const QSelectJobByTaskID = `--sql 9b4d6e2f-1c8a-4d5b-a7e3-0f6c2d9b8e14
select id, user_id, status, coalesce(source_version_id::text, ''), prompt, provider, quantity,
       slots, coalesce(task_id, ''), error_message, created_at, updated_at
from generation_jobs
where task_id = $1::text
limit 1;
`

const QBindJobTask = `--sql 3f7a9c1e-6d2b-4e8f-b5a0-8c4d1e7f2a69
update generation_jobs
set task_id = $2::text, updated_at = now()
where id = $1::uuid and status = 'processing';
`

const QUpdateJobSlot = `--sql 5d2e8f4a-7b1c-4a9d-8e6f-2c0b5a3d9e17
update generation_jobs
set slots = jsonb_set(slots, array[$2::text], $3::jsonb),
    updated_at = now()
where id = $1::uuid and status = 'processing';
`

const QFinalizeJob = `--sql 8a3c5e1b-2f9d-4c6a-b8e4-7d0f1a6c3b25
update generation_jobs
set status = $2::text,
    error_message = $3::text,
    updated_at = now()
where id = $1::uuid and status = 'processing';
`
